package store

import (
	"context"
	"encoding/json"
	"slices"

	bolt "go.etcd.io/bbolt"

	"github.com/Tyrowin/messenger/internal/domain"
)

// SaveMessage appends msg to the global chat history. Keys come from the
// bucket sequence, so iteration order is insertion order.
func (b *Bolt) SaveMessage(ctx context.Context, msg domain.StoredMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return b.fail("save_message", err)
	}
	return b.update(ctx, "save_message", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(messagesBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(itob(seq), data)
	})
}

// RecentMessages returns at most limit of the newest messages, oldest first.
func (b *Bolt) RecentMessages(ctx context.Context, limit int) ([]domain.StoredMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	var history []domain.StoredMessage
	err := b.view(ctx, "recent_messages", func(tx *bolt.Tx) error {
		c := tx.Bucket(messagesBucket).Cursor()
		for k, v := c.Last(); k != nil && len(history) < limit; k, v = c.Prev() {
			msg, err := decode[domain.StoredMessage](v)
			if err != nil {
				return err
			}
			history = append(history, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Reverse(history)
	return history, nil
}
