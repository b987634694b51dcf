// Package protocol defines the tagged-union envelope exchanged between chat
// clients and the server, one JSON object per frame.
//
// Every frame carries a "type" discriminator naming its variant, for example
//
//	{"type":"Join","username":"alice"}
//	{"type":"SendMessageToGroupChat","chat_id":1,"content":"yo"}
//	{"type":"Leave"}
package protocol

import "github.com/Tyrowin/messenger/internal/domain"

// Kind names a message variant. Its value is the "type" field on the wire.
type Kind string

// Message variants.
const (
	KindJoin                      Kind = "Join"
	KindSendMessage               Kind = "SendMessage"
	KindReceiveMessage            Kind = "ReceiveMessage"
	KindSendPrivateMessage        Kind = "SendPrivateMessage"
	KindReceivePrivateMessage     Kind = "ReceivePrivateMessage"
	KindLeave                     Kind = "Leave"
	KindErrorMessage              Kind = "ErrorMessage"
	KindAddMemberToGroupChat      Kind = "AddMemberToGroupChat"
	KindSendMessageToGroupChat    Kind = "SendMessageToGroupChat"
	KindReceiveGroupChatMessage   Kind = "ReceiveGroupChatMessage"
	KindRemoveMemberFromGroupChat Kind = "RemoveMemberFromGroupChat"
)

// Message is implemented by exactly the variant types of this package.
type Message interface {
	Kind() Kind
	sealed()
}

// Join asks the server to bind the connection to a username.
type Join struct {
	Username string `json:"username"`
}

// SendMessage posts Content to the global chat.
type SendMessage struct {
	Content string `json:"content"`
}

// ReceiveMessage delivers a global chat message or a server notice.
type ReceiveMessage struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// SendPrivateMessage asks for direct delivery to Recipient.
type SendPrivateMessage struct {
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

// ReceivePrivateMessage delivers a direct message.
type ReceivePrivateMessage struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// Leave ends the session.
type Leave struct{}

// ErrorMessage reports a failed request to the client that made it.
type ErrorMessage struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// AddMemberToGroupChat adds Username to the chat ChatID.
type AddMemberToGroupChat struct {
	ChatID   int64  `json:"chat_id"`
	Username string `json:"username"`
}

// SendMessageToGroupChat posts Content to every live member of ChatID.
type SendMessageToGroupChat struct {
	ChatID  int64  `json:"chat_id"`
	Content string `json:"content"`
}

// ReceiveGroupChatMessage delivers a group chat message.
type ReceiveGroupChatMessage struct {
	ChatID  int64  `json:"chat_id"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// RemoveMemberFromGroupChat removes Username from ChatID on behalf of Requester.
type RemoveMemberFromGroupChat struct {
	ChatID    int64  `json:"chat_id"`
	Username  string `json:"username"`
	Requester string `json:"requester"`
}

func (Join) Kind() Kind                      { return KindJoin }
func (SendMessage) Kind() Kind               { return KindSendMessage }
func (ReceiveMessage) Kind() Kind            { return KindReceiveMessage }
func (SendPrivateMessage) Kind() Kind        { return KindSendPrivateMessage }
func (ReceivePrivateMessage) Kind() Kind     { return KindReceivePrivateMessage }
func (Leave) Kind() Kind                     { return KindLeave }
func (ErrorMessage) Kind() Kind              { return KindErrorMessage }
func (AddMemberToGroupChat) Kind() Kind      { return KindAddMemberToGroupChat }
func (SendMessageToGroupChat) Kind() Kind    { return KindSendMessageToGroupChat }
func (ReceiveGroupChatMessage) Kind() Kind   { return KindReceiveGroupChatMessage }
func (RemoveMemberFromGroupChat) Kind() Kind { return KindRemoveMemberFromGroupChat }

func (Join) sealed()                      {}
func (SendMessage) sealed()               {}
func (ReceiveMessage) sealed()            {}
func (SendPrivateMessage) sealed()        {}
func (ReceivePrivateMessage) sealed()     {}
func (Leave) sealed()                     {}
func (ErrorMessage) sealed()              {}
func (AddMemberToGroupChat) sealed()      {}
func (SendMessageToGroupChat) sealed()    {}
func (ReceiveGroupChatMessage) sealed()   {}
func (RemoveMemberFromGroupChat) sealed() {}

// FromClient reports whether clients are allowed to send k.
func FromClient(k Kind) bool {
	switch k {
	case KindJoin, KindSendMessage, KindSendPrivateMessage, KindLeave,
		KindAddMemberToGroupChat, KindSendMessageToGroupChat, KindRemoveMemberFromGroupChat:
		return true
	}
	return false
}

// NewError builds the ErrorMessage reported to a client for err.
func NewError(err error) ErrorMessage {
	return ErrorMessage{Error: err.Error(), Code: domain.Code(err)}
}

// Notice builds a server notice.
func Notice(content string) ReceiveMessage {
	return ReceiveMessage{Sender: domain.ServerSender, Content: content}
}
