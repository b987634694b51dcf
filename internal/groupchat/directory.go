// Package groupchat manages named group chats and enforces their
// authorization rules: only the creator may remove members or delete the
// chat, and the creator can never be removed.
//
// The Directory never caches membership or ownership. Every call goes to the
// store, which checks and mutates inside one transaction.
package groupchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/messenger/internal/domain"
)

// Store is the persistence the directory needs.
type Store interface {
	CreateGroupChat(ctx context.Context, name, creator string) (domain.GroupChat, error)
	AddMember(ctx context.Context, chatID int64, username string) error
	Members(ctx context.Context, chatID int64) ([]string, error)
	RemoveMember(ctx context.Context, chatID int64, username, requester string) error
	DeleteGroupChat(ctx context.Context, chatID int64, requester string) error
	Creator(ctx context.Context, chatID int64) (string, error)
	GetGroupChat(ctx context.Context, chatID int64) (domain.GroupChat, error)
	ListGroupChats(ctx context.Context) ([]domain.GroupChat, error)
}

const (
	nameRule     = "required,max=64"
	usernameRule = "required,max=32"
)

var validate = validator.New()

// Directory is the group chat service shared by every session and the HTTP
// handlers.
type Directory struct {
	store   Store
	log     *slog.Logger
	timeout time.Duration
}

// New creates a Directory. A positive timeout bounds every store call.
func New(store Store, log *slog.Logger, timeout time.Duration) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{store: store, log: log.With("component", "groupchat"), timeout: timeout}
}

func (d *Directory) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

func checkField(field, value, rule string) error {
	if err := validate.Var(value, rule); err != nil {
		return fmt.Errorf("%w: invalid %s", domain.ErrInvalidOperation, field)
	}
	return nil
}

// wrap keeps taxonomy errors and reports anything else as a persistence
// failure.
func wrap(op string, err error) error {
	if err == nil || errors.Is(err, domain.ErrPersistenceFailure) {
		return err
	}
	if domain.Code(err) != "PersistenceFailure" {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistenceFailure, op, err)
}

// Create makes a chat named name owned by creator.
func (d *Directory) Create(ctx context.Context, name, creator string) (domain.GroupChat, error) {
	if err := checkField("name", name, nameRule); err != nil {
		return domain.GroupChat{}, err
	}
	if err := checkField("creator", creator, usernameRule); err != nil {
		return domain.GroupChat{}, err
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	chat, err := d.store.CreateGroupChat(ctx, name, creator)
	if err != nil {
		return domain.GroupChat{}, wrap("create", err)
	}
	d.log.Info("group chat created", "chat_id", chat.ID, "name", chat.Name, "creator", creator)
	return chat, nil
}

// AddMember adds username to the chat. Adding an existing member succeeds.
func (d *Directory) AddMember(ctx context.Context, chatID int64, username string) error {
	if err := checkField("username", username, usernameRule); err != nil {
		return err
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	if err := d.store.AddMember(ctx, chatID, username); err != nil {
		return wrap("add_member", err)
	}
	d.log.Info("member added", "chat_id", chatID, "username", username)
	return nil
}

// Members returns the chat's members.
func (d *Directory) Members(ctx context.Context, chatID int64) ([]string, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	members, err := d.store.Members(ctx, chatID)
	return members, wrap("members", err)
}

// RemoveMember removes username on behalf of requester. The store checks, in
// order, that the chat exists, that requester is its creator, that requester
// is not removing itself and that username is a member. username is not
// shape-checked so that a non-creator always sees PermissionDenied.
func (d *Directory) RemoveMember(ctx context.Context, chatID int64, username, requester string) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	if err := d.store.RemoveMember(ctx, chatID, username, requester); err != nil {
		d.log.Debug("remove member rejected", "chat_id", chatID, "username", username, "requester", requester, "error", err)
		return wrap("remove_member", err)
	}
	d.log.Info("member removed", "chat_id", chatID, "username", username, "requester", requester)
	return nil
}

// Delete removes the chat. Only its creator may do so.
func (d *Directory) Delete(ctx context.Context, chatID int64, requester string) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	if err := d.store.DeleteGroupChat(ctx, chatID, requester); err != nil {
		return wrap("delete", err)
	}
	d.log.Info("group chat deleted", "chat_id", chatID, "requester", requester)
	return nil
}

// Creator returns the chat's creator.
func (d *Directory) Creator(ctx context.Context, chatID int64) (string, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	creator, err := d.store.Creator(ctx, chatID)
	return creator, wrap("creator", err)
}

// Get returns the chat with its members.
func (d *Directory) Get(ctx context.Context, chatID int64) (domain.GroupChat, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	chat, err := d.store.GetGroupChat(ctx, chatID)
	return chat, wrap("get", err)
}

// List returns every chat without members.
func (d *Directory) List(ctx context.Context) ([]domain.GroupChat, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	chats, err := d.store.ListGroupChats(ctx)
	return chats, wrap("list", err)
}
