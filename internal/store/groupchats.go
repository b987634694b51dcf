package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Tyrowin/messenger/internal/domain"
)

// memberMark is the value stored under each member key. bbolt may report an
// empty value as missing, so the mark is never empty.
var memberMark = []byte{1}

type chatRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Creator   string    `json:"creator"`
	CreatedAt time.Time `json:"created_at"`
}

func (r chatRecord) toDomain(members []string) domain.GroupChat {
	return domain.GroupChat{
		ID:        r.ID,
		Name:      r.Name,
		Creator:   r.Creator,
		Members:   members,
		CreatedAt: r.CreatedAt,
	}
}

func loadChat(tx *bolt.Tx, id int64) (chatRecord, error) {
	data := tx.Bucket(chatsBucket).Get(chatKey(id))
	if data == nil {
		return chatRecord{}, fmt.Errorf("%w: %d", domain.ErrChatNotFound, id)
	}
	return decode[chatRecord](data)
}

func membersOf(tx *bolt.Tx, id int64) (*bolt.Bucket, error) {
	bucket := tx.Bucket(chatMembersBucket).Bucket(chatKey(id))
	if bucket == nil {
		return nil, fmt.Errorf("members bucket missing for chat %d", id)
	}
	return bucket, nil
}

func listMembers(tx *bolt.Tx, id int64) ([]string, error) {
	bucket, err := membersOf(tx, id)
	if err != nil {
		return nil, err
	}
	var members []string
	err = bucket.ForEach(func(k, _ []byte) error {
		members = append(members, string(k))
		return nil
	})
	return members, err
}

// CreateGroupChat stores a new chat owned by creator, who becomes its first
// member. Names are unique across all chats.
func (b *Bolt) CreateGroupChat(ctx context.Context, name, creator string) (domain.GroupChat, error) {
	var rec chatRecord
	err := b.update(ctx, "create_group_chat", func(tx *bolt.Tx) error {
		names := tx.Bucket(chatNamesBucket)
		if names.Get([]byte(name)) != nil {
			return fmt.Errorf("%w: %s", domain.ErrGroupChatExists, name)
		}

		chats := tx.Bucket(chatsBucket)
		seq, err := chats.NextSequence()
		if err != nil {
			return err
		}
		rec = chatRecord{ID: int64(seq), Name: name, Creator: creator, CreatedAt: time.Now().UTC()}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		key := chatKey(rec.ID)
		if err := chats.Put(key, data); err != nil {
			return err
		}
		if err := names.Put([]byte(name), key); err != nil {
			return err
		}
		members, err := tx.Bucket(chatMembersBucket).CreateBucket(key)
		if err != nil {
			return err
		}
		return members.Put([]byte(creator), memberMark)
	})
	if err != nil {
		return domain.GroupChat{}, err
	}
	return rec.toDomain([]string{creator}), nil
}

// AddMember adds username to the chat. Adding an existing member is a no-op.
func (b *Bolt) AddMember(ctx context.Context, chatID int64, username string) error {
	return b.update(ctx, "add_member", func(tx *bolt.Tx) error {
		if _, err := loadChat(tx, chatID); err != nil {
			return err
		}
		members, err := membersOf(tx, chatID)
		if err != nil {
			return err
		}
		return members.Put([]byte(username), memberMark)
	})
}

// Members lists the chat's members in name order.
func (b *Bolt) Members(ctx context.Context, chatID int64) ([]string, error) {
	var members []string
	err := b.view(ctx, "members", func(tx *bolt.Tx) error {
		if _, err := loadChat(tx, chatID); err != nil {
			return err
		}
		var err error
		members, err = listMembers(tx, chatID)
		return err
	})
	return members, err
}

// RemoveMember removes username from the chat on behalf of requester. Only
// the creator may remove members and the creator cannot remove itself.
func (b *Bolt) RemoveMember(ctx context.Context, chatID int64, username, requester string) error {
	return b.update(ctx, "remove_member", func(tx *bolt.Tx) error {
		rec, err := loadChat(tx, chatID)
		if err != nil {
			return err
		}
		if !rec.toDomain(nil).IsCreator(requester) {
			return fmt.Errorf("%w: only the creator can remove members", domain.ErrPermissionDenied)
		}
		if username == requester {
			return fmt.Errorf("%w: the creator cannot be removed", domain.ErrInvalidOperation)
		}
		members, err := membersOf(tx, chatID)
		if err != nil {
			return err
		}
		if members.Get([]byte(username)) == nil {
			return fmt.Errorf("%w: %s", domain.ErrMemberNotFound, username)
		}
		return members.Delete([]byte(username))
	})
}

// DeleteGroupChat removes the chat, its name reservation and its members.
// Only the creator may delete a chat.
func (b *Bolt) DeleteGroupChat(ctx context.Context, chatID int64, requester string) error {
	return b.update(ctx, "delete_group_chat", func(tx *bolt.Tx) error {
		rec, err := loadChat(tx, chatID)
		if err != nil {
			return err
		}
		if !rec.toDomain(nil).IsCreator(requester) {
			return fmt.Errorf("%w: only the creator can delete the chat", domain.ErrPermissionDenied)
		}
		key := chatKey(chatID)
		if err := tx.Bucket(chatsBucket).Delete(key); err != nil {
			return err
		}
		if err := tx.Bucket(chatNamesBucket).Delete([]byte(rec.Name)); err != nil {
			return err
		}
		return tx.Bucket(chatMembersBucket).DeleteBucket(key)
	})
}

// Creator returns the username holding administrative rights over the chat.
func (b *Bolt) Creator(ctx context.Context, chatID int64) (string, error) {
	var creator string
	err := b.view(ctx, "creator", func(tx *bolt.Tx) error {
		rec, err := loadChat(tx, chatID)
		creator = rec.Creator
		return err
	})
	return creator, err
}

// GetGroupChat returns the chat with its members.
func (b *Bolt) GetGroupChat(ctx context.Context, chatID int64) (domain.GroupChat, error) {
	var chat domain.GroupChat
	err := b.view(ctx, "group_chat", func(tx *bolt.Tx) error {
		rec, err := loadChat(tx, chatID)
		if err != nil {
			return err
		}
		members, err := listMembers(tx, chatID)
		if err != nil {
			return err
		}
		chat = rec.toDomain(members)
		return nil
	})
	return chat, err
}

// ListGroupChats lists every chat in creation order, without members.
func (b *Bolt) ListGroupChats(ctx context.Context) ([]domain.GroupChat, error) {
	var chats []domain.GroupChat
	err := b.view(ctx, "group_chats", func(tx *bolt.Tx) error {
		return tx.Bucket(chatsBucket).ForEach(func(k, v []byte) error {
			rec, err := decode[chatRecord](v)
			if err != nil {
				return err
			}
			if rec.ID != int64(binary.BigEndian.Uint64(k)) {
				return fmt.Errorf("chat record %d stored under key %x", rec.ID, k)
			}
			chats = append(chats, rec.toDomain(nil))
			return nil
		})
	})
	return chats, err
}
