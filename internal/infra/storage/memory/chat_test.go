package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/domain/anchors"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
	domainuser "marketplace/internal/domain/user"
)

func newConversation(t *testing.T, id string, a, b domainuser.ID, at time.Time) *conversations.Conversation {
	t.Helper()
	conv, err := conversations.New(conversations.CreateParams{
		ID:          conversations.ID(id),
		Anchor:      anchors.Ref{Kind: anchors.KindListing, ID: "l1"},
		Initiator:   a,
		Counterpart: b,
		Now:         at,
	})
	require.NoError(t, err)
	return conv
}

func TestConversationRepositoryDedupesPair(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, newConversation(t, "c1", "alice", "bob", now)))
	err := repo.Create(ctx, newConversation(t, "c2", "bob", "alice", now))
	assert.ErrorIs(t, err, conversations.ErrDuplicate)

	pair, err := conversations.NewParticipants("bob", "alice")
	require.NoError(t, err)
	found, err := repo.FindByAnchorPair(ctx, anchors.Ref{Kind: anchors.KindListing, ID: "l1"}, pair)
	require.NoError(t, err)
	assert.Equal(t, conversations.ID("c1"), found.ID)

	_, err = repo.FindByAnchorPair(ctx, anchors.Ref{Kind: anchors.KindService, ID: "l1"}, pair)
	assert.ErrorIs(t, err, conversations.ErrNotFound)
}

func TestConversationRepositoryConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository()
	now := time.Now()

	candidates := make([]*conversations.Conversation, 20)
	for i := range candidates {
		candidates[i] = newConversation(t, fmt.Sprintf("c%d", i), "alice", "bob", now)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(candidates))
	for _, conv := range candidates {
		wg.Add(1)
		go func(conv *conversations.Conversation) {
			defer wg.Done()
			errs <- repo.Create(ctx, conv)
		}(conv)
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, conversations.ErrDuplicate)
	}
	assert.Equal(t, 1, created)
}

func TestConversationRepositoryListOrdersByActivity(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	older := newConversation(t, "older", "alice", "bob", base)
	older.Anchor = anchors.Ref{Kind: anchors.KindService, ID: "s1"}
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newConversation(t, "newer", "alice", "carol", base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, newConversation(t, "other", "bob", "carol", base)))

	require.NoError(t, repo.TouchLastMessage(ctx, "older", conversations.LastMessage{
		MessageID: "m1", Content: "hi", SenderID: "alice", CreatedAt: base.Add(time.Hour),
	}))

	list, err := repo.ListByParticipant(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, conversations.ID("older"), list[0].ID)
	assert.Equal(t, "hi", list[0].LastMessage.Content)
	assert.Equal(t, conversations.ID("newer"), list[1].ID)
}

func TestMessageRepositoryPagingAndReads(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository()
	conv := newConversation(t, "c1", "alice", "bob", time.Now())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		sender := domainuser.ID("alice")
		if i%2 == 1 {
			sender = "bob"
		}
		msg, err := messages.New(conv, messages.CreateParams{
			ID:       messages.ID(fmt.Sprintf("m%d", i)),
			SenderID: sender,
			Content:  fmt.Sprintf("msg %d", i),
			Now:      base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		require.NoError(t, repo.Append(ctx, msg))
	}

	page, total, err := repo.ListPage(ctx, "c1", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, messages.ID("m4"), page[0].ID)
	assert.Equal(t, messages.ID("m3"), page[1].ID)

	unread, err := repo.CountUnread(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, unread)

	at := base.Add(time.Hour)
	n, err := repo.MarkRead(ctx, "c1", "bob", at)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = repo.MarkRead(ctx, "c1", "bob", at.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	all, _, err := repo.ListPage(ctx, "c1", 0, 10)
	require.NoError(t, err)
	for _, msg := range all {
		if msg.SenderID == "alice" {
			require.NotNil(t, msg.ReadAt)
			assert.True(t, msg.ReadAt.Equal(at))
		} else {
			assert.False(t, msg.Read)
		}
	}

	counts, err := repo.CountUnreadIn(ctx, []conversations.ID{"c1", "missing"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, counts["c1"])
	assert.Equal(t, 0, counts["missing"])
}

func TestMessageRepositoryConcurrentListAndMarkRead(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository()
	conv := newConversation(t, "c1", "alice", "bob", time.Now())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		msg, err := messages.New(conv, messages.CreateParams{
			ID:       messages.ID(fmt.Sprintf("m%02d", i)),
			SenderID: "alice",
			Content:  "hi",
			Now:      base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		require.NoError(t, repo.Append(ctx, msg))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			page, total, err := repo.ListPage(ctx, "c1", 0, 50)
			assert.NoError(t, err)
			assert.Equal(t, 50, total)
			for _, msg := range page {
				assert.Equal(t, msg.Read, msg.ReadAt != nil)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := repo.MarkRead(ctx, "c1", "bob", time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	unread, err := repo.CountUnread(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestUserRepositorySetPresence(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()
	u, err := domainuser.NewUser(domainuser.CreateParams{ID: "u1", Email: "A@x.io", Name: "A", PasswordHash: "h"})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, u))

	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetPresence(ctx, "u1", true, at))
	got, err := repo.ByEmail(ctx, "a@x.io")
	require.NoError(t, err)
	assert.True(t, got.IsOnline)

	require.NoError(t, repo.SetPresence(ctx, "u1", false, at))
	got, err = repo.ByID(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, got.IsOnline)
	assert.True(t, got.LastSeen.Equal(at))

	assert.ErrorIs(t, repo.SetPresence(ctx, "nobody", true, at), domainuser.ErrNotFound)
}
