package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/Tyrowin/messenger/internal/domain"
	"github.com/Tyrowin/messenger/internal/protocol"
)

const privatePrefix = "[Private] "

var validate = validator.New()

func welcomeNotice(username string) string { return fmt.Sprintf("Welcome, %s!", username) }
func joinedNotice(username string) string  { return fmt.Sprintf("%s joined the chat", username) }
func leftNotice(username string) string    { return fmt.Sprintf("%s left the chat", username) }

// handleFrame decodes one inbound frame and routes it. Request failures are
// reported to the client and keep the session; only transport errors and
// errLeave end it.
func (s *Session) handleFrame(ctx context.Context, frame []byte) error {
	msg, err := protocol.Decode(frame)
	if err != nil {
		s.log.Debug("undecodable frame", "error", err)
		s.h.deps.Metrics.FrameReceived("invalid")
		return s.writeError(ctx, fmt.Errorf("%w: %w", domain.ErrInvalidOperation, err))
	}
	s.h.deps.Metrics.FrameReceived(string(msg.Kind()))

	if !protocol.FromClient(msg.Kind()) {
		return s.writeError(ctx, fmt.Errorf("%w: %s is sent by the server only", domain.ErrInvalidOperation, msg.Kind()))
	}

	if s.state != StateJoined {
		switch m := msg.(type) {
		case protocol.Join:
			return s.handleJoin(ctx, m)
		case protocol.Leave:
			return errLeave
		default:
			return s.writeError(ctx, domain.ErrNotJoined)
		}
	}

	switch m := msg.(type) {
	case protocol.Join:
		return s.writeError(ctx, fmt.Errorf("%w: already joined as %s", domain.ErrInvalidOperation, s.username))
	case protocol.SendMessage:
		return s.handleSendMessage(ctx, m)
	case protocol.SendPrivateMessage:
		return s.handlePrivateMessage(ctx, m)
	case protocol.SendMessageToGroupChat:
		return s.handleGroupMessage(ctx, m)
	case protocol.AddMemberToGroupChat:
		return s.handleAddMember(ctx, m)
	case protocol.RemoveMemberFromGroupChat:
		return s.handleRemoveMember(ctx, m)
	case protocol.Leave:
		return errLeave
	}
	return s.writeError(ctx, fmt.Errorf("%w: unsupported %s", domain.ErrInvalidOperation, msg.Kind()))
}

// handleJoin binds the session to a username. A taken name ends the session
// after the error is sent.
func (s *Session) handleJoin(ctx context.Context, m protocol.Join) error {
	username := m.Username
	if err := validate.Var(username, "required,max=32"); err != nil {
		return s.writeError(ctx, fmt.Errorf("%w: invalid username", domain.ErrInvalidOperation))
	}

	if s.h.opts.RequireRegisteredUser {
		storeCtx, cancel := s.storeContext(ctx)
		_, err := s.h.deps.Users.FindUser(storeCtx, username)
		cancel()
		if err != nil {
			s.log.Info("join rejected", "username", username, "error", err)
			return s.writeError(ctx, err)
		}
	}

	var err error
	if username == domain.ServerSender {
		err = fmt.Errorf("%w: %s is reserved", domain.ErrNameTaken, username)
	} else {
		err = s.h.deps.Registry.Register(username, s.outbox)
	}
	if err != nil {
		s.log.Warn("join rejected", "username", username, "error", err)
		if werr := s.writeError(ctx, err); werr != nil {
			return werr
		}
		if errors.Is(err, domain.ErrNameTaken) {
			return errLeave
		}
		return nil
	}

	s.username = username
	s.state = StateJoined
	s.log = s.log.With("username", username)
	s.h.deps.Metrics.UserJoined()
	s.log.Info("user joined")

	if err := s.write(ctx, protocol.Notice(welcomeNotice(username))); err != nil {
		return err
	}
	if err := s.publish(ctx, protocol.Notice(joinedNotice(username))); err != nil {
		s.log.Warn("joined notice not broadcast", "error", err)
	}
	return nil
}

// handleSendMessage persists the message, then broadcasts it. A failed save
// is logged and the broadcast still happens.
func (s *Session) handleSendMessage(ctx context.Context, m protocol.SendMessage) error {
	storeCtx, cancel := s.storeContext(ctx)
	err := s.h.deps.Messages.SaveMessage(storeCtx, domain.NewStoredMessage(s.username, m.Content))
	cancel()
	if err != nil {
		s.log.Error("message not saved", "error", err)
	}

	if err := s.publish(ctx, protocol.ReceiveMessage{Sender: s.username, Content: m.Content}); err != nil {
		s.log.Warn("broadcast failed", "error", err)
	}
	return nil
}

func (s *Session) handlePrivateMessage(ctx context.Context, m protocol.SendPrivateMessage) error {
	recipient, ok := s.h.deps.Registry.Lookup(m.Recipient)
	if !ok {
		return s.writeError(ctx, fmt.Errorf("%w: %s", domain.ErrUserNotFound, m.Recipient))
	}

	frame, err := protocol.Encode(protocol.ReceivePrivateMessage{
		Sender:  s.username,
		Content: privatePrefix + m.Content,
	})
	if err != nil {
		return err
	}
	if !recipient.Deliver(frame) {
		s.h.deps.Metrics.DirectDeliveryFailed()
		s.log.Warn("private message not delivered", "recipient", m.Recipient)
		return s.writeError(ctx, fmt.Errorf("%w: %s", domain.ErrDeliveryFailed, m.Recipient))
	}
	return nil
}

// handleGroupMessage delivers to every member that currently has a live
// session. Members without one are skipped.
func (s *Session) handleGroupMessage(ctx context.Context, m protocol.SendMessageToGroupChat) error {
	storeCtx, cancel := s.storeContext(ctx)
	members, err := s.h.deps.Directory.Members(storeCtx, m.ChatID)
	cancel()
	if err != nil {
		return s.writeError(ctx, err)
	}

	frame, err := protocol.Encode(protocol.ReceiveGroupChatMessage{
		ChatID:  m.ChatID,
		Sender:  s.username,
		Content: m.Content,
	})
	if err != nil {
		return err
	}

	for _, member := range lo.Uniq(members) {
		handle, ok := s.h.deps.Registry.Lookup(member)
		if !ok {
			continue
		}
		if !handle.Deliver(frame) {
			s.h.deps.Metrics.DirectDeliveryFailed()
			s.log.Warn("group message not delivered", "chat_id", m.ChatID, "recipient", member)
		}
	}
	return nil
}

func (s *Session) handleAddMember(ctx context.Context, m protocol.AddMemberToGroupChat) error {
	storeCtx, cancel := s.storeContext(ctx)
	err := s.h.deps.Directory.AddMember(storeCtx, m.ChatID, m.Username)
	cancel()
	if err != nil {
		return s.writeError(ctx, err)
	}
	return s.write(ctx, protocol.Notice(fmt.Sprintf("Member '%s' added to group chat %d", m.Username, m.ChatID)))
}

// handleRemoveMember acts on behalf of the joined user. A requester naming
// someone else is refused before the directory is consulted.
func (s *Session) handleRemoveMember(ctx context.Context, m protocol.RemoveMemberFromGroupChat) error {
	requester := m.Requester
	if requester == "" {
		requester = s.username
	}
	if requester != s.username {
		return s.writeError(ctx, fmt.Errorf("%w: cannot act on behalf of %s", domain.ErrPermissionDenied, requester))
	}

	storeCtx, cancel := s.storeContext(ctx)
	err := s.h.deps.Directory.RemoveMember(storeCtx, m.ChatID, m.Username, requester)
	cancel()
	if err != nil {
		return s.writeError(ctx, err)
	}
	return s.write(ctx, protocol.Notice(fmt.Sprintf("Member %s removed from group chat %d", m.Username, m.ChatID)))
}
