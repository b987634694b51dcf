package store_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/Tyrowin/messenger/internal/domain"
	"github.com/Tyrowin/messenger/internal/store"
)

func openTestStore(t *testing.T) *store.Bolt {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "chat-*.db")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, err := store.Open(f.Name(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewOnExistingDB(t *testing.T) {
	db, err := bolt.Open(t.TempDir()+"/raw.db", 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = store.New(db, store.Options{})
	require.NoError(t, err)
	_, err = store.New(db, store.Options{})
	require.NoError(t, err, "bucket creation must be idempotent")
}

func TestRecentMessagesOldestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		require.NoError(t, s.SaveMessage(ctx, domain.NewStoredMessage("alice", fmt.Sprintf("m%d", i))))
	}

	history, err := s.RecentMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 10)
	assert.Equal(t, "m5", history[0].Content)
	assert.Equal(t, "m14", history[9].Content)

	none, err := s.RecentMessages(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecentMessagesEmptyStore(t *testing.T) {
	s := openTestStore(t)
	history, err := s.RecentMessages(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCanceledContextIsPersistenceFailure(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.SaveMessage(ctx, domain.NewStoredMessage("alice", "hi"))
	assert.ErrorIs(t, err, domain.ErrPersistenceFailure)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClosedStoreIsPersistenceFailure(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.RecentMessages(context.Background(), 10)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailure)
}

func TestUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.FindUser(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	created, err := s.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	assert.Equal(t, "alice", created.Username)

	_, err = s.CreateUser(ctx, "alice", "other")
	assert.ErrorIs(t, err, domain.ErrUserExists)

	found, err := s.FindUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash", found.PasswordHash)
	assert.False(t, found.CreatedAt.IsZero())
}

func TestCreateGroupChat(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chat, err := s.CreateGroupChat(ctx, "team", "alice")
	require.NoError(t, err)
	assert.Positive(t, chat.ID)
	assert.Equal(t, []string{"alice"}, chat.Members)

	_, err = s.CreateGroupChat(ctx, "team", "bob")
	assert.ErrorIs(t, err, domain.ErrGroupChatExists)

	creator, err := s.Creator(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", creator)
}

func TestCreateGroupChatConcurrentSameName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateGroupChat(ctx, "team", fmt.Sprintf("user%d", i))
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, domain.ErrGroupChatExists)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	chats, err := s.ListGroupChats(ctx)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestMembership(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chat, err := s.CreateGroupChat(ctx, "team", "alice")
	require.NoError(t, err)

	require.NoError(t, s.AddMember(ctx, chat.ID, "bob"))
	require.NoError(t, s.AddMember(ctx, chat.ID, "bob"))
	require.NoError(t, s.AddMember(ctx, chat.ID, "carol"))

	members, err := s.Members(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, members)

	assert.ErrorIs(t, s.AddMember(ctx, 999, "bob"), domain.ErrChatNotFound)
	_, err = s.Members(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrChatNotFound)
}

func TestRemoveMemberRules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chat, err := s.CreateGroupChat(ctx, "team", "alice")
	require.NoError(t, err)
	require.NoError(t, s.AddMember(ctx, chat.ID, "bob"))

	tests := []struct {
		name      string
		chatID    int64
		username  string
		requester string
		want      error
	}{
		{"unknown chat", 999, "bob", "alice", domain.ErrChatNotFound},
		{"not the creator", chat.ID, "alice", "bob", domain.ErrPermissionDenied},
		{"creator removes self", chat.ID, "alice", "alice", domain.ErrInvalidOperation},
		{"not a member", chat.ID, "dave", "alice", domain.ErrMemberNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.RemoveMember(ctx, tt.chatID, tt.username, tt.requester)
			assert.ErrorIs(t, err, tt.want)
			assert.NotErrorIs(t, err, domain.ErrPersistenceFailure)
		})
	}

	require.NoError(t, s.RemoveMember(ctx, chat.ID, "bob", "alice"))
	members, err := s.Members(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)
}

func TestDeleteGroupChat(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chat, err := s.CreateGroupChat(ctx, "team", "alice")
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteGroupChat(ctx, chat.ID, "bob"), domain.ErrPermissionDenied)
	require.NoError(t, s.DeleteGroupChat(ctx, chat.ID, "alice"))
	assert.ErrorIs(t, s.DeleteGroupChat(ctx, chat.ID, "alice"), domain.ErrChatNotFound)

	_, err = s.GetGroupChat(ctx, chat.ID)
	assert.ErrorIs(t, err, domain.ErrChatNotFound)

	again, err := s.CreateGroupChat(ctx, "team", "bob")
	require.NoError(t, err, "name is free again after delete")
	assert.NotEqual(t, chat.ID, again.ID)
}

func TestGroupChatsInCreationOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"b", "a", "c"} {
		_, err := s.CreateGroupChat(ctx, name, "alice")
		require.NoError(t, err)
	}

	chats, err := s.ListGroupChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 3)
	assert.Equal(t, "b", chats[0].Name)
	assert.Equal(t, "c", chats[2].Name)

	full, err := s.GetGroupChat(ctx, chats[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "a", full.Name)
	assert.Equal(t, []string{"alice"}, full.Members)
}
