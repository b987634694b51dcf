// Package session drives one client connection through its lifecycle:
// Connected, then Joined once a username is registered, then Closed.
//
// Each connection runs one Session. A reader goroutine turns inbound frames
// into a channel and the run goroutine selects over inbound frames, hub
// broadcasts, direct deliveries and shutdown. Only the run goroutine writes
// to the connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/messenger/internal/domain"
	"github.com/Tyrowin/messenger/internal/hub"
	"github.com/Tyrowin/messenger/internal/metrics"
	"github.com/Tyrowin/messenger/internal/protocol"
	"github.com/Tyrowin/messenger/internal/registry"
)

// MessageStore keeps the global chat history.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg domain.StoredMessage) error
	RecentMessages(ctx context.Context, limit int) ([]domain.StoredMessage, error)
}

// UserStore looks up registered accounts.
type UserStore interface {
	FindUser(ctx context.Context, username string) (domain.User, error)
}

// Directory is the group chat service used by the router.
type Directory interface {
	AddMember(ctx context.Context, chatID int64, username string) error
	Members(ctx context.Context, chatID int64) ([]string, error)
	RemoveMember(ctx context.Context, chatID int64, username, requester string) error
}

// Defaults for Options fields left at zero.
const (
	DefaultHistoryLimit = 10
	DefaultOutboxBuffer = 64
	DefaultStoreTimeout = 5 * time.Second
	leaveTimeout        = time.Second
)

// Options tunes every session started by a Handler.
type Options struct {
	// HistoryLimit is the replay size on connect. Zero means
	// DefaultHistoryLimit; negative disables the replay.
	HistoryLimit int
	OutboxBuffer int
	StoreTimeout time.Duration
	// RequireRegisteredUser makes Join reject names without an account.
	RequireRegisteredUser bool
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Registry  *registry.Registry
	Hub       *hub.Hub
	Directory Directory
	Messages  MessageStore
	Users     UserStore
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Handler starts sessions and tracks how many are running.
type Handler struct {
	deps   Deps
	opts   Options
	log    *slog.Logger
	active atomic.Int64
}

// NewHandler validates deps and fills zero options with defaults.
func NewHandler(deps Deps, opts Options) (*Handler, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("session: registry is required")
	case deps.Hub == nil:
		return nil, errors.New("session: hub is required")
	case deps.Directory == nil:
		return nil, errors.New("session: directory is required")
	case deps.Messages == nil:
		return nil, errors.New("session: message store is required")
	case opts.RequireRegisteredUser && deps.Users == nil:
		return nil, errors.New("session: user store is required for registered users")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.HistoryLimit == 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.OutboxBuffer <= 0 {
		opts.OutboxBuffer = DefaultOutboxBuffer
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	return &Handler{deps: deps, opts: opts, log: deps.Logger}, nil
}

// Active returns the number of running sessions.
func (h *Handler) Active() int {
	return int(h.active.Load())
}

// Serve runs a session on conn until the client leaves, the connection fails
// or ctx is canceled. conn is closed when Serve returns. A nil error means
// the session ended normally.
func (h *Handler) Serve(ctx context.Context, conn Conn, remote string) error {
	s := &Session{
		id:     uuid.NewString(),
		h:      h,
		conn:   conn,
		outbox: NewOutbox(h.opts.OutboxBuffer),
		state:  StateConnected,
	}
	s.log = h.log.With("session", s.id, "remote", remote)

	h.active.Add(1)
	h.deps.Metrics.SessionOpened()
	defer func() {
		h.active.Add(-1)
		h.deps.Metrics.SessionClosed()
	}()

	err := s.run(ctx)
	if errors.Is(err, ErrConnClosed) {
		return nil
	}
	return err
}

// State is the lifecycle position of a session.
type State int

// Session states.
const (
	StateConnected State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	default:
		return "closed"
	}
}

// Session is the state of one connection. All fields are owned by the run
// goroutine.
type Session struct {
	id       string
	h        *Handler
	conn     Conn
	outbox   *Outbox
	sub      *hub.Subscription
	username string
	state    State
	log      *slog.Logger
}

// errLeave ends the run loop without an error.
var errLeave = errors.New("client left")

func (s *Session) run(ctx context.Context) (err error) {
	sub, err := s.h.deps.Hub.Subscribe(ctx)
	if err != nil {
		_ = s.conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	s.sub = sub
	defer s.cleanup()

	s.log.Debug("session started", "subscriber", sub.ID())

	if err := s.sendHistory(ctx); err != nil {
		return err
	}

	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go s.readLoop(ctx, inbound, readErr, done)

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("session canceled")
			return nil

		case err := <-readErr:
			return err

		case frame := <-inbound:
			if err := s.handleFrame(ctx, frame); err != nil {
				if errors.Is(err, errLeave) {
					return nil
				}
				return err
			}

		case frame, ok := <-s.sub.C():
			if !ok {
				if err := s.sub.Err(); err != nil && !errors.Is(err, hub.ErrHubClosed) {
					return err
				}
				return nil
			}
			if err := s.writeFrame(ctx, frame); err != nil {
				return err
			}

		case frame := <-s.outbox.C():
			if err := s.writeFrame(ctx, frame); err != nil {
				return err
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, inbound chan<- []byte, readErr chan<- error, done <-chan struct{}) {
	for {
		frame, err := s.conn.ReadFrame(ctx)
		if err != nil {
			readErr <- err
			return
		}
		select {
		case inbound <- frame:
		case <-done:
			return
		}
	}
}

// cleanup runs on every exit path. The left notice is broadcast only after
// the registry entry is gone, so the name is already reusable when others
// see it.
func (s *Session) cleanup() {
	s.h.deps.Hub.Unsubscribe(s.sub)

	if s.state == StateJoined {
		if s.h.deps.Registry.Release(s.username, s.outbox) {
			s.h.deps.Metrics.UserLeft()
		}

		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		if err := s.publish(ctx, protocol.Notice(leftNotice(s.username))); err != nil {
			s.log.Debug("left notice not broadcast", "error", err)
		}
		cancel()
		s.log.Info("user left", "username", s.username)
	}

	s.state = StateClosed
	s.outbox.Close()
	if err := s.conn.Close(); err != nil {
		s.log.Debug("close connection", "error", err)
	}
	s.log.Debug("session closed")
}

func (s *Session) sendHistory(ctx context.Context) error {
	if s.h.opts.HistoryLimit < 0 {
		return nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.h.opts.StoreTimeout)
	history, err := s.h.deps.Messages.RecentMessages(storeCtx, s.h.opts.HistoryLimit)
	cancel()
	if err != nil {
		s.log.Warn("history unavailable", "error", err)
		return nil
	}

	for _, msg := range history {
		if err := s.write(ctx, protocol.ReceiveMessage{Sender: msg.Sender, Content: msg.Content}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) write(ctx context.Context, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return s.writeFrame(ctx, frame)
}

func (s *Session) writeFrame(ctx context.Context, frame []byte) error {
	if err := s.conn.WriteFrame(ctx, frame); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	s.h.deps.Metrics.FrameSent()
	return nil
}

// writeError reports err to this client only.
func (s *Session) writeError(ctx context.Context, err error) error {
	return s.write(ctx, protocol.NewError(err))
}

func (s *Session) publish(ctx context.Context, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.h.deps.Hub.Publish(ctx, frame)
}

func (s *Session) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.h.opts.StoreTimeout)
}
