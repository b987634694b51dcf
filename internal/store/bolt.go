// Package store persists chat messages, users and group chats in bbolt.
//
// bbolt runs at most one write transaction at a time. Every group chat
// mutation performs its existence, uniqueness and authorization checks inside
// the same Update transaction that writes, so those checks cannot race with
// concurrent mutations from other sessions.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Tyrowin/messenger/internal/domain"
	"github.com/Tyrowin/messenger/internal/metrics"
)

var (
	messagesBucket    = []byte("messages")
	usersBucket       = []byte("users")
	chatsBucket       = []byte("group_chats")
	chatNamesBucket   = []byte("group_chat_names")
	chatMembersBucket = []byte("group_chat_members")
)

// Bolt implements the persistence gateway of the chat core.
type Bolt struct {
	db      *bolt.DB
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Options configures Open.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// LockTimeout bounds how long Open waits for the file lock.
	LockTimeout time.Duration
}

// Open opens or creates the database file at path.
func Open(path string, opts Options) (*Bolt, error) {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.LockTimeout})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s, err := New(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New creates the buckets in db if needed and wraps it.
func New(db *bolt.DB, opts Options) (*Bolt, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{messagesBucket, usersBucket, chatsBucket, chatNamesBucket, chatMembersBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bolt{db: db, log: opts.Logger, metrics: opts.Metrics}, nil
}

// Close releases the database file.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Path returns the database file path.
func (b *Bolt) Path() string {
	return b.db.Path()
}

// fail passes taxonomy errors through and wraps everything else as a
// persistence failure.
func (b *Bolt) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if code := domain.Code(err); code != "PersistenceFailure" {
		return err
	}
	b.metrics.StoreError(op)
	b.log.Error("store operation failed", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistenceFailure, op, err)
}

func (b *Bolt) view(ctx context.Context, op string, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return b.fail(op, err)
	}
	return b.fail(op, b.db.View(fn))
}

func (b *Bolt) update(ctx context.Context, op string, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return b.fail(op, err)
	}
	return b.fail(op, b.db.Update(fn))
}

func itob(v uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, v)
	return key
}

func chatKey(id int64) []byte {
	return itob(uint64(id))
}

func decode[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
