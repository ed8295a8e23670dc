package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketplace/internal/domain/anchors"
	domainuser "marketplace/internal/domain/user"
)

// AnchorRepository stores listings and services in one collection keyed by "kind:id".
type AnchorRepository struct {
	col *mongo.Collection
}

func NewAnchorRepository(db *mongo.Database) *AnchorRepository {
	return &AnchorRepository{col: db.Collection(colAnchors)}
}

func (r *AnchorRepository) ByRef(ctx context.Context, ref anchors.Ref) (*anchors.Item, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	var doc anchorDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": ref.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, anchors.ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *AnchorRepository) Save(ctx context.Context, item *anchors.Item) error {
	if item == nil {
		return anchors.ErrInvalidRef
	}
	if err := item.Ref().Validate(); err != nil {
		return err
	}
	doc := anchorDocument{
		ID:          item.Ref().String(),
		Kind:        string(item.Kind),
		ItemID:      item.ID,
		Owner:       string(item.Owner),
		Title:       item.Title,
		Description: item.Description,
		Category:    item.Category,
		PriceCents:  item.PriceCents,
		Images:      append([]string{}, item.Images...),
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
	_, err := r.col.UpdateByID(ctx, doc.ID, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

func (r *AnchorRepository) List(ctx context.Context, kind anchors.Kind, offset, limit int) ([]*anchors.Item, int, error) {
	filter := bson.M{"kind": string(kind)}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "item_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	var docs []anchorDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	out := make([]*anchors.Item, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, int(total), nil
}

type anchorDocument struct {
	ID          string    `bson:"_id"`
	Kind        string    `bson:"kind"`
	ItemID      string    `bson:"item_id"`
	Owner       string    `bson:"owner_id"`
	Title       string    `bson:"title"`
	Description string    `bson:"description"`
	Category    string    `bson:"category"`
	PriceCents  int64     `bson:"price_cents"`
	Images      []string  `bson:"images"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (d anchorDocument) toDomain() *anchors.Item {
	return &anchors.Item{
		Kind:        anchors.Kind(d.Kind),
		ID:          d.ItemID,
		Owner:       domainuser.ID(d.Owner),
		Title:       d.Title,
		Description: d.Description,
		Category:    d.Category,
		PriceCents:  d.PriceCents,
		Images:      append([]string(nil), d.Images...),
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

var _ anchors.Repository = (*AnchorRepository)(nil)
