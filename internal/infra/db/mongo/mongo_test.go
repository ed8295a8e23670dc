package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"marketplace/internal/app/middleware"
	"marketplace/internal/domain/anchors"
	domainauth "marketplace/internal/domain/auth"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
	domainuser "marketplace/internal/domain/user"
)

// newTestClient connects to MONGO_TEST_URI and drops the scratch database afterwards.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := Connect(ctx, uri, fmt.Sprintf("chat_test_%d", time.Now().UnixNano()), nil)
	require.NoError(t, err)
	require.NoError(t, client.EnsureIndexes(ctx, time.Hour))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = client.DB.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return client
}

func msgID(t *testing.T) messages.ID {
	id, err := uuid.NewV7()
	require.NoError(t, err)
	return messages.ID(id.String())
}

func TestUserRepository(t *testing.T) {
	client := newTestClient(t)
	repo := NewUserRepository(client.DB)
	ctx := context.Background()

	alice, err := domainuser.NewUser(domainuser.CreateParams{ID: "alice", Email: "Alice@Example.com", Name: "Alice", PasswordHash: "x"})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, alice))

	got, err := repo.ByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.Equal(t, alice.ID, got.ID)

	clash, err := domainuser.NewUser(domainuser.CreateParams{ID: "other", Email: "alice@example.com", Name: "Other", PasswordHash: "x"})
	require.NoError(t, err)
	require.ErrorIs(t, repo.Save(ctx, clash), domainuser.ErrEmailAlreadyUsed)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, repo.SetPresence(ctx, "alice", true, at))
	got, err = repo.ByID(ctx, "alice")
	require.NoError(t, err)
	require.True(t, got.IsOnline)
	require.Equal(t, "Alice", got.Name)

	require.NoError(t, repo.SetPresence(ctx, "alice", false, at))
	got, err = repo.ByID(ctx, "alice")
	require.NoError(t, err)
	require.False(t, got.IsOnline)
	require.True(t, got.LastSeen.Equal(at))

	require.ErrorIs(t, repo.SetPresence(ctx, "ghost", true, at), domainuser.ErrNotFound)
	_, err = repo.ByID(ctx, "ghost")
	require.ErrorIs(t, err, domainuser.ErrNotFound)
}

func TestSessionStore(t *testing.T) {
	client := newTestClient(t)
	store := NewSessionStore(client.DB)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	for _, id := range []domainauth.SessionID{"s1", "s2"} {
		require.NoError(t, store.Save(ctx, &domainauth.Session{
			ID: id, UserID: "alice", Roles: []domainuser.Role{domainuser.RoleUser},
			CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		}))
	}
	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, domainuser.ID("alice"), got.UserID)
	require.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))

	require.NoError(t, store.Delete(ctx, "s1"))
	require.ErrorIs(t, store.Delete(ctx, "s1"), domainauth.ErrSessionNotFound)

	require.NoError(t, store.DeleteByUser(ctx, "alice"))
	_, err = store.Get(ctx, "s2")
	require.ErrorIs(t, err, domainauth.ErrSessionNotFound)
}

func TestAnchorRepositoryListsNewestFirst(t *testing.T) {
	client := newTestClient(t)
	repo := NewAnchorRepository(client.DB)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		item, err := anchors.NewItem(anchors.CreateParams{
			Kind: anchors.KindListing, ID: id, Owner: "bob", Title: "Item " + id, Now: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, item))
	}
	svc, err := anchors.NewItem(anchors.CreateParams{Kind: anchors.KindService, ID: "a", Owner: "bob", Title: "Repair", Now: base})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, svc))

	items, total, err := repo.List(ctx, anchors.KindListing, 0, 2)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, items, 2)
	require.Equal(t, "c", items[0].ID)
	require.Equal(t, "b", items[1].ID)

	got, err := repo.ByRef(ctx, anchors.Ref{Kind: anchors.KindService, ID: "a"})
	require.NoError(t, err)
	require.Equal(t, "Repair", got.Title)

	_, err = repo.ByRef(ctx, anchors.Ref{Kind: anchors.KindService, ID: "zzz"})
	require.ErrorIs(t, err, anchors.ErrNotFound)
}

func TestConversationRepositoryDedupAndOrdering(t *testing.T) {
	client := newTestClient(t)
	repo := NewConversationRepository(client.DB)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	bike := anchors.Ref{Kind: anchors.KindListing, ID: "bike"}

	first, err := conversations.New(conversations.CreateParams{ID: "c1", Anchor: bike, Initiator: "alice", Counterpart: "bob", Now: base})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, first))

	dup, err := conversations.New(conversations.CreateParams{ID: "c2", Anchor: bike, Initiator: "bob", Counterpart: "alice", Now: base})
	require.NoError(t, err)
	require.ErrorIs(t, repo.Create(ctx, dup), conversations.ErrDuplicate)

	pair, err := conversations.NewParticipants("bob", "alice")
	require.NoError(t, err)
	found, err := repo.FindByAnchorPair(ctx, bike, pair)
	require.NoError(t, err)
	require.Equal(t, conversations.ID("c1"), found.ID)

	other, err := conversations.New(conversations.CreateParams{
		ID: "c3", Anchor: anchors.Ref{Kind: anchors.KindService, ID: "repair"}, Initiator: "alice", Counterpart: "carol", Now: base.Add(time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, other))

	list, err := repo.ListByParticipant(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, conversations.ID("c3"), list[0].ID)

	require.NoError(t, repo.TouchLastMessage(ctx, "c1", conversations.LastMessage{
		MessageID: "m1", Content: "hi", SenderID: "alice", CreatedAt: base.Add(time.Hour),
	}))
	list, err = repo.ListByParticipant(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, conversations.ID("c1"), list[0].ID)
	require.Equal(t, "hi", list[0].LastMessage.Content)

	require.ErrorIs(t, repo.TouchLastMessage(ctx, "nope", conversations.LastMessage{}), conversations.ErrNotFound)
}

func TestMessageRepositoryReadAndUnread(t *testing.T) {
	client := newTestClient(t)
	repo := NewMessageRepository(client.DB)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var ids []messages.ID
	for i := 0; i < 3; i++ {
		id := msgID(t)
		ids = append(ids, id)
		require.NoError(t, repo.Append(ctx, &messages.Message{
			ID: id, ConversationID: "c1", SenderID: "alice", Content: fmt.Sprintf("m%d", i), CreatedAt: base,
		}))
	}
	require.NoError(t, repo.Append(ctx, &messages.Message{ID: ids[0], ConversationID: "c1", SenderID: "alice", Content: "again", CreatedAt: base}))
	require.NoError(t, repo.Append(ctx, &messages.Message{ID: msgID(t), ConversationID: "c2", SenderID: "carol", Content: "x", CreatedAt: base}))

	page, total, err := repo.ListPage(ctx, "c1", 0, 2)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, page, 2)
	require.Equal(t, ids[2], page[0].ID)
	require.Equal(t, ids[1], page[1].ID)

	n, err := repo.CountUnread(ctx, "c1", "alice")
	require.NoError(t, err)
	require.Zero(t, n)

	counts, err := repo.CountUnreadIn(ctx, []conversations.ID{"c1", "c2", "c9"}, "bob")
	require.NoError(t, err)
	require.Equal(t, map[conversations.ID]int{"c1": 3, "c2": 1, "c9": 0}, counts)

	updated, err := repo.MarkRead(ctx, "c1", "bob", base.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 3, updated)
	updated, err = repo.MarkRead(ctx, "c1", "bob", base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Zero(t, updated)

	page, _, err = repo.ListPage(ctx, "c1", 0, 1)
	require.NoError(t, err)
	require.True(t, page[0].Read)
	require.True(t, page[0].ReadAt.Equal(base.Add(time.Minute)))
}

func TestIdempotencyStore(t *testing.T) {
	client := newTestClient(t)
	store := NewIdempotencyStore(client.DB)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Save(ctx, middleware.IdempotencyRecord{Key: "k", Payload: []byte(`{"id":"m1"}`), OccurredAt: time.Now()}))
	rec, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"id":"m1"}`, string(rec.Payload))
}
