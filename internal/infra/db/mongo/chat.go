package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketplace/internal/domain/anchors"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
	domainuser "marketplace/internal/domain/user"
)

// ConversationRepository relies on the unique (anchor_kind, anchor_id, pair_key) index.
type ConversationRepository struct {
	col *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	return &ConversationRepository{col: db.Collection(colConversations)}
}

type lastMessageDocument struct {
	MessageID string    `bson:"message_id"`
	Content   string    `bson:"content"`
	SenderID  string    `bson:"sender_id"`
	CreatedAt time.Time `bson:"created_at"`
}

type conversationDocument struct {
	ID           string               `bson:"_id"`
	Participants []string             `bson:"participants"`
	PairKey      string               `bson:"pair_key"`
	AnchorKind   string               `bson:"anchor_kind"`
	AnchorID     string               `bson:"anchor_id"`
	LastMessage  *lastMessageDocument `bson:"last_message,omitempty"`
	CreatedAt    time.Time            `bson:"created_at"`
	UpdatedAt    time.Time            `bson:"updated_at"`
}

func newConversationDocument(c *conversations.Conversation) conversationDocument {
	doc := conversationDocument{
		ID:           string(c.ID),
		Participants: []string{string(c.Participants[0]), string(c.Participants[1])},
		PairKey:      c.Participants.Key(),
		AnchorKind:   string(c.Anchor.Kind),
		AnchorID:     c.Anchor.ID,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if c.LastMessage != nil {
		doc.LastMessage = newLastMessageDocument(*c.LastMessage)
	}
	return doc
}

func newLastMessageDocument(lm conversations.LastMessage) *lastMessageDocument {
	return &lastMessageDocument{
		MessageID: lm.MessageID,
		Content:   lm.Content,
		SenderID:  string(lm.SenderID),
		CreatedAt: lm.CreatedAt.UTC(),
	}
}

func (d conversationDocument) toDomain() *conversations.Conversation {
	conv := &conversations.Conversation{
		ID:        conversations.ID(d.ID),
		Anchor:    anchors.Ref{Kind: anchors.Kind(d.AnchorKind), ID: d.AnchorID},
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	if len(d.Participants) == 2 {
		conv.Participants = conversations.Participants{domainuser.ID(d.Participants[0]), domainuser.ID(d.Participants[1])}
	}
	if d.LastMessage != nil {
		conv.LastMessage = &conversations.LastMessage{
			MessageID: d.LastMessage.MessageID,
			Content:   d.LastMessage.Content,
			SenderID:  domainuser.ID(d.LastMessage.SenderID),
			CreatedAt: d.LastMessage.CreatedAt.UTC(),
		}
	}
	return conv
}

func (r *ConversationRepository) ByID(ctx context.Context, id conversations.ID) (*conversations.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": string(id)})
}

func (r *ConversationRepository) FindByAnchorPair(ctx context.Context, anchor anchors.Ref, pair conversations.Participants) (*conversations.Conversation, error) {
	return r.findOne(ctx, bson.M{
		"anchor_kind": string(anchor.Kind),
		"anchor_id":   anchor.ID,
		"pair_key":    pair.Key(),
	})
}

func (r *ConversationRepository) findOne(ctx context.Context, filter bson.M) (*conversations.Conversation, error) {
	var doc conversationDocument
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, conversations.ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *ConversationRepository) Create(ctx context.Context, conv *conversations.Conversation) error {
	if conv == nil || conv.ID == "" {
		return conversations.ErrIDRequired
	}
	_, err := r.col.InsertOne(ctx, newConversationDocument(conv))
	if mongo.IsDuplicateKeyError(err) {
		return conversations.ErrDuplicate
	}
	return err
}

func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID domainuser.ID) ([]*conversations.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.col.Find(ctx, bson.M{"participants": string(userID)}, opts)
	if err != nil {
		return nil, err
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*conversations.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// TouchLastMessage replaces the snapshot and only ever moves updated_at forward.
func (r *ConversationRepository) TouchLastMessage(ctx context.Context, id conversations.ID, snapshot conversations.LastMessage) error {
	update := bson.M{
		"$set": bson.M{"last_message": newLastMessageDocument(snapshot)},
		"$max": bson.M{"updated_at": snapshot.CreatedAt.UTC()},
	}
	res, err := r.col.UpdateByID(ctx, string(id), update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return conversations.ErrNotFound
	}
	return nil
}

// MessageRepository keeps one document per message. Ids are time ordered, so
// _id breaks ties on created_at.
type MessageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{col: db.Collection(colMessages)}
}

type messageDocument struct {
	ID             string     `bson:"_id"`
	ConversationID string     `bson:"conversation_id"`
	SenderID       string     `bson:"sender_id"`
	Content        string     `bson:"content"`
	Read           bool       `bson:"read"`
	ReadAt         *time.Time `bson:"read_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
}

func (d messageDocument) toDomain() *messages.Message {
	msg := &messages.Message{
		ID:             messages.ID(d.ID),
		ConversationID: conversations.ID(d.ConversationID),
		SenderID:       domainuser.ID(d.SenderID),
		Content:        d.Content,
		Read:           d.Read,
		CreatedAt:      d.CreatedAt.UTC(),
	}
	if d.ReadAt != nil {
		at := d.ReadAt.UTC()
		msg.ReadAt = &at
	}
	return msg
}

// Append is idempotent on the message id.
func (r *MessageRepository) Append(ctx context.Context, msg *messages.Message) error {
	if msg == nil || msg.ID == "" {
		return messages.ErrIDRequired
	}
	_, err := r.col.InsertOne(ctx, messageDocument{
		ID:             string(msg.ID),
		ConversationID: string(msg.ConversationID),
		SenderID:       string(msg.SenderID),
		Content:        msg.Content,
		Read:           msg.Read,
		ReadAt:         msg.ReadAt,
		CreatedAt:      msg.CreatedAt.UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (r *MessageRepository) ListPage(ctx context.Context, conv conversations.ID, offset, limit int) ([]*messages.Message, int, error) {
	filter := bson.M{"conversation_id": string(conv)}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	out := make([]*messages.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, int(total), nil
}

func unreadFilter(userID domainuser.ID) bson.M {
	return bson.M{"read": false, "sender_id": bson.M{"$ne": string(userID)}}
}

func (r *MessageRepository) MarkRead(ctx context.Context, conv conversations.ID, reader domainuser.ID, at time.Time) (int, error) {
	filter := unreadFilter(reader)
	filter["conversation_id"] = string(conv)
	res, err := r.col.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"read": true, "read_at": at.UTC()}})
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, conv conversations.ID, userID domainuser.ID) (int, error) {
	filter := unreadFilter(userID)
	filter["conversation_id"] = string(conv)
	n, err := r.col.CountDocuments(ctx, filter)
	return int(n), err
}

func (r *MessageRepository) CountUnreadIn(ctx context.Context, convs []conversations.ID, userID domainuser.ID) (map[conversations.ID]int, error) {
	out := make(map[conversations.ID]int, len(convs))
	if len(convs) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(convs))
	for _, id := range convs {
		out[id] = 0
		ids = append(ids, string(id))
	}
	match := unreadFilter(userID)
	match["conversation_id"] = bson.M{"$in": ids}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$conversation_id"}, {Key: "n", Value: bson.M{"$sum": 1}}}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID string `bson:"_id"`
		N  int    `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[conversations.ID(row.ID)] = row.N
	}
	return out, nil
}

var (
	_ conversations.Repository = (*ConversationRepository)(nil)
	_ messages.Repository      = (*MessageRepository)(nil)
)
