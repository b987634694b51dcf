package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame is returned for frames that are not a JSON object
	// with a string "type" field.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownType is returned for frames whose "type" names no variant.
	ErrUnknownType = errors.New("unknown message type")
)

var decoders = map[Kind]func([]byte) (Message, error){
	KindJoin:                      decodeAs[Join],
	KindSendMessage:               decodeAs[SendMessage],
	KindReceiveMessage:            decodeAs[ReceiveMessage],
	KindSendPrivateMessage:        decodeAs[SendPrivateMessage],
	KindReceivePrivateMessage:     decodeAs[ReceivePrivateMessage],
	KindLeave:                     decodeAs[Leave],
	KindErrorMessage:              decodeAs[ErrorMessage],
	KindAddMemberToGroupChat:      decodeAs[AddMemberToGroupChat],
	KindSendMessageToGroupChat:    decodeAs[SendMessageToGroupChat],
	KindReceiveGroupChatMessage:   decodeAs[ReceiveGroupChatMessage],
	KindRemoveMemberFromGroupChat: decodeAs[RemoveMemberFromGroupChat],
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return m, nil
}

// Decode parses one frame into its variant.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type *Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if head.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	decode, ok := decoders[*head.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, *head.Type)
	}
	return decode(data)
}

// Encode serializes m with its "type" discriminator first.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformedFrame)
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	kind, err := json.Marshal(m.Kind())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(kind) + 9)
	buf.WriteString(`{"type":`)
	buf.Write(kind)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
