package scylla

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/gocql/gocql"

	"marketplace/internal/domain/anchors"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
	domainuser "marketplace/internal/domain/user"
)

var errNoSession = errors.New("scylla: session not initialized")

// ConversationStore keeps conversations in Scylla. The (anchor, pair) key is
// claimed with a lightweight transaction before the row is written.
type ConversationStore struct {
	session *gocql.Session
	logger  *slog.Logger
}

func NewConversationStore(session *gocql.Session, logger *slog.Logger) *ConversationStore {
	return &ConversationStore{session: session, logger: logger}
}

const conversationColumns = `id, anchor_kind, anchor_id, participants, created_at, updated_at,
	last_message_id, last_message_sender, last_message_content, last_message_at`

func scanConversation(scan func(...any) error) (*conversations.Conversation, error) {
	var (
		row                          conversations.Conversation
		id, kind, anchorID           string
		participants                 []string
		lastID, lastSender, lastText string
		lastAt                       time.Time
	)
	if err := scan(&id, &kind, &anchorID, &participants, &row.CreatedAt, &row.UpdatedAt,
		&lastID, &lastSender, &lastText, &lastAt); err != nil {
		return nil, err
	}
	row.ID = conversations.ID(id)
	row.Anchor = anchors.Ref{Kind: anchors.Kind(kind), ID: anchorID}
	if len(participants) == 2 {
		row.Participants = conversations.Participants{domainuser.ID(participants[0]), domainuser.ID(participants[1])}
	}
	row.CreatedAt = row.CreatedAt.UTC()
	row.UpdatedAt = row.UpdatedAt.UTC()
	if lastID != "" {
		row.LastMessage = &conversations.LastMessage{
			MessageID: lastID,
			Content:   lastText,
			SenderID:  domainuser.ID(lastSender),
			CreatedAt: lastAt.UTC(),
		}
	}
	return &row, nil
}

func (s *ConversationStore) ByID(ctx context.Context, id conversations.ID) (*conversations.Conversation, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	q := s.session.Query(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, string(id)).WithContext(ctx)
	conv, err := scanConversation(q.Scan)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, conversations.ErrNotFound
	}
	return conv, err
}

func (s *ConversationStore) FindByAnchorPair(ctx context.Context, anchor anchors.Ref, pair conversations.Participants) (*conversations.Conversation, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	var id string
	err := s.session.Query(`SELECT conversation_id FROM conversation_keys WHERE anchor = ? AND pair_key = ?`,
		anchor.String(), pair.Key()).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Scan(&id)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, conversations.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.ByID(ctx, conversations.ID(id))
}

func (s *ConversationStore) Create(ctx context.Context, conv *conversations.Conversation) error {
	if s.session == nil {
		return errNoSession
	}
	if conv == nil || conv.ID == "" {
		return conversations.ErrIDRequired
	}
	applied, err := s.session.Query(`INSERT INTO conversation_keys (anchor, pair_key, conversation_id) VALUES (?, ?, ?) IF NOT EXISTS`,
		conv.Anchor.String(), conv.Participants.Key(), string(conv.ID)).
		WithContext(ctx).
		MapScanCAS(map[string]any{})
	if err != nil {
		return err
	}
	if !applied {
		return conversations.ErrDuplicate
	}

	participants := []string{string(conv.Participants[0]), string(conv.Participants[1])}
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO conversations (id, anchor_kind, anchor_id, participants, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(conv.ID), string(conv.Anchor.Kind), conv.Anchor.ID, participants, conv.CreatedAt.UTC(), conv.UpdatedAt.UTC())
	for _, p := range participants {
		batch.Query(`INSERT INTO conversations_by_user (user_id, conversation_id) VALUES (?, ?)`, p, string(conv.ID))
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		if rbErr := s.session.Query(`DELETE FROM conversation_keys WHERE anchor = ? AND pair_key = ?`,
			conv.Anchor.String(), conv.Participants.Key()).WithContext(ctx).Exec(); rbErr != nil && s.logger != nil {
			s.logger.Warn("release conversation key failed", "conversation_id", conv.ID, "error", rbErr)
		}
		return err
	}
	return nil
}

func (s *ConversationStore) ListByParticipant(ctx context.Context, userID domainuser.ID) ([]*conversations.Conversation, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	iter := s.session.Query(`SELECT conversation_id FROM conversations_by_user WHERE user_id = ?`, string(userID)).
		WithContext(ctx).
		Iter()
	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	out := make([]*conversations.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.ByID(ctx, conversations.ID(id))
		if errors.Is(err, conversations.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	sortByActivity(out)
	return out, nil
}

func sortByActivity(convs []*conversations.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID > convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}

// TouchLastMessage relies on sends being serialized per conversation.
func (s *ConversationStore) TouchLastMessage(ctx context.Context, id conversations.ID, snapshot conversations.LastMessage) error {
	conv, err := s.ByID(ctx, id)
	if err != nil {
		return err
	}
	conv.Touch(snapshot)
	return s.session.Query(`UPDATE conversations SET updated_at = ?, last_message_id = ?, last_message_sender = ?,
	last_message_content = ?, last_message_at = ? WHERE id = ?`,
		conv.UpdatedAt, snapshot.MessageID, string(snapshot.SenderID), snapshot.Content, snapshot.CreatedAt.UTC(), string(id)).
		WithContext(ctx).
		Exec()
}

// MessageStore keeps one partition per conversation, clustered newest first.
type MessageStore struct {
	session *gocql.Session
}

func NewMessageStore(session *gocql.Session) *MessageStore {
	return &MessageStore{session: session}
}

// Append is idempotent on (created_at, message id).
func (s *MessageStore) Append(ctx context.Context, msg *messages.Message) error {
	if s.session == nil {
		return errNoSession
	}
	if msg == nil || msg.ID == "" {
		return messages.ErrIDRequired
	}
	var readAt *time.Time
	if msg.ReadAt != nil {
		at := msg.ReadAt.UTC()
		readAt = &at
	}
	_, err := s.session.Query(`INSERT INTO messages (conversation_id, created_at, message_id, sender_id, content, read, read_at)
	VALUES (?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		string(msg.ConversationID), msg.CreatedAt.UTC(), string(msg.ID), string(msg.SenderID), msg.Content, msg.Read, readAt).
		WithContext(ctx).
		MapScanCAS(map[string]any{})
	return err
}

func (s *MessageStore) scan(ctx context.Context, conv conversations.ID, visit func(*messages.Message) bool) error {
	if s.session == nil {
		return errNoSession
	}
	iter := s.session.Query(`SELECT created_at, message_id, sender_id, content, read, read_at FROM messages WHERE conversation_id = ?`,
		string(conv)).
		WithContext(ctx).
		PageSize(500).
		Iter()
	var (
		createdAt time.Time
		id        string
		sender    string
		content   string
		read      bool
		readAt    time.Time
	)
	for iter.Scan(&createdAt, &id, &sender, &content, &read, &readAt) {
		msg := &messages.Message{
			ID:             messages.ID(id),
			ConversationID: conv,
			SenderID:       domainuser.ID(sender),
			Content:        content,
			Read:           read,
			CreatedAt:      createdAt.UTC(),
		}
		if !readAt.IsZero() {
			at := readAt.UTC()
			msg.ReadAt = &at
		}
		if !visit(msg) {
			break
		}
	}
	return iter.Close()
}

// ListPage walks the partition; Scylla has no OFFSET so the skipped rows are read and dropped.
func (s *MessageStore) ListPage(ctx context.Context, conv conversations.ID, offset, limit int) ([]*messages.Message, int, error) {
	out := make([]*messages.Message, 0, limit)
	total := 0
	err := s.scan(ctx, conv, func(m *messages.Message) bool {
		if total >= offset && len(out) < limit {
			out = append(out, m)
		}
		total++
		return true
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *MessageStore) MarkRead(ctx context.Context, conv conversations.ID, reader domainuser.ID, at time.Time) (int, error) {
	var pending []*messages.Message
	err := s.scan(ctx, conv, func(m *messages.Message) bool {
		if m.UnreadFor(reader) {
			pending = append(pending, m)
		}
		return true
	})
	if err != nil || len(pending) == 0 {
		return 0, err
	}
	stamp := at.UTC()
	batch := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, m := range pending {
		batch.Query(`UPDATE messages SET read = true, read_at = ? WHERE conversation_id = ? AND created_at = ? AND message_id = ?`,
			stamp, string(conv), m.CreatedAt, string(m.ID))
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		return 0, err
	}
	return len(pending), nil
}

func (s *MessageStore) CountUnread(ctx context.Context, conv conversations.ID, userID domainuser.ID) (int, error) {
	n := 0
	err := s.scan(ctx, conv, func(m *messages.Message) bool {
		if m.UnreadFor(userID) {
			n++
		}
		return true
	})
	return n, err
}

func (s *MessageStore) CountUnreadIn(ctx context.Context, convs []conversations.ID, userID domainuser.ID) (map[conversations.ID]int, error) {
	out := make(map[conversations.ID]int, len(convs))
	for _, id := range convs {
		n, err := s.CountUnread(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, nil
}

var (
	_ conversations.Repository = (*ConversationStore)(nil)
	_ messages.Repository      = (*MessageStore)(nil)
)
