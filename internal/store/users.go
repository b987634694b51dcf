package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Tyrowin/messenger/internal/domain"
)

// userRecord is the stored form of domain.User. The domain type hides the
// hash from JSON, so it cannot be stored directly.
type userRecord struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateUser stores a new account. It fails with ErrUserExists if the name is
// already registered.
func (b *Bolt) CreateUser(ctx context.Context, username, passwordHash string) (domain.User, error) {
	rec := userRecord{Username: username, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return domain.User{}, b.fail("create_user", err)
	}

	err = b.update(ctx, "create_user", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(usersBucket)
		if bucket.Get([]byte(username)) != nil {
			return fmt.Errorf("%w: %s", domain.ErrUserExists, username)
		}
		return bucket.Put([]byte(username), data)
	})
	if err != nil {
		return domain.User{}, err
	}
	return domain.User(rec), nil
}

// FindUser looks up a registered account.
func (b *Bolt) FindUser(ctx context.Context, username string) (domain.User, error) {
	var user domain.User
	err := b.view(ctx, "find_user", func(tx *bolt.Tx) error {
		data := tx.Bucket(usersBucket).Get([]byte(username))
		if data == nil {
			return fmt.Errorf("%w: %s", domain.ErrUserNotFound, username)
		}
		rec, err := decode[userRecord](data)
		if err != nil {
			return err
		}
		user = domain.User(rec)
		return nil
	})
	return user, err
}
