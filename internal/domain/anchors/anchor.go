package anchors

import (
	"context"
	"errors"
	"strings"
	"time"

	"marketplace/internal/domain/shared/events"
	"marketplace/internal/domain/user"
)

var (
	ErrInvalidRef    = errors.New("anchors: exactly one of listing or service must be referenced")
	ErrNotFound      = errors.New("anchors: item not found")
	ErrTitleRequired = errors.New("anchors: title is required")
	ErrOwnerRequired = errors.New("anchors: owner is required")
	ErrNegativePrice = errors.New("anchors: price must be non-negative")
	ErrNotOwner      = errors.New("anchors: only the owner may modify the item")
	ErrUnknownKind   = errors.New("anchors: unknown kind")
	ErrTooManyImages = errors.New("anchors: image limit reached")
)

const (
	maxImagesPerItem  = 10
	maxTitleRuneCount = 200
)

// Kind tells which tradeable collection an item belongs to.
type Kind string

const (
	KindListing Kind = "listing"
	KindService Kind = "service"
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindListing:
		return KindListing, nil
	case KindService:
		return KindService, nil
	default:
		return "", ErrUnknownKind
	}
}

// Ref points at the item a conversation is about.
type Ref struct {
	Kind Kind
	ID   string
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ID
}

// RefFrom builds a reference from the two optional identifiers clients may send.
// Exactly one of them must be set.
func RefFrom(listingID, serviceID string) (Ref, error) {
	listingID = strings.TrimSpace(listingID)
	serviceID = strings.TrimSpace(serviceID)
	switch {
	case listingID != "" && serviceID != "":
		return Ref{}, ErrInvalidRef
	case listingID != "":
		return Ref{Kind: KindListing, ID: listingID}, nil
	case serviceID != "":
		return Ref{Kind: KindService, ID: serviceID}, nil
	default:
		return Ref{}, ErrInvalidRef
	}
}

// Validate checks the reference shape without touching storage.
func (r Ref) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrInvalidRef
	}
	if r.Kind != KindListing && r.Kind != KindService {
		return ErrInvalidRef
	}
	return nil
}

// Item is a listing or a service offered on the marketplace.
type Item struct {
	Kind        Kind
	ID          string
	Owner       user.ID
	Title       string
	Description string
	Category    string
	PriceCents  int64
	Images      []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	events.EventRecorder
}

type CreateParams struct {
	Kind        Kind
	ID          string
	Owner       user.ID
	Title       string
	Description string
	Category    string
	PriceCents  int64
	Now         time.Time
}

func NewItem(params CreateParams) (*Item, error) {
	if params.Kind != KindListing && params.Kind != KindService {
		return nil, ErrUnknownKind
	}
	if strings.TrimSpace(params.ID) == "" {
		return nil, ErrInvalidRef
	}
	if strings.TrimSpace(string(params.Owner)) == "" {
		return nil, ErrOwnerRequired
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	if runes := []rune(title); len(runes) > maxTitleRuneCount {
		title = string(runes[:maxTitleRuneCount])
	}
	if params.PriceCents < 0 {
		return nil, ErrNegativePrice
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	item := &Item{
		Kind:        params.Kind,
		ID:          strings.TrimSpace(params.ID),
		Owner:       params.Owner,
		Title:       title,
		Description: strings.TrimSpace(params.Description),
		Category:    strings.TrimSpace(params.Category),
		PriceCents:  params.PriceCents,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	item.Record(ItemPublishedEvent{
		BaseEvent: events.BaseEvent{Name: "anchor.published", Aggregate: item.Ref().String(), Time: now},
		Kind:      string(item.Kind),
		ItemID:    item.ID,
		OwnerID:   string(item.Owner),
	})
	return item, nil
}

func (i *Item) Ref() Ref {
	return Ref{Kind: i.Kind, ID: i.ID}
}

// AttachImage appends a stored image URL. Only the owner may do it.
func (i *Item) AttachImage(actor user.ID, url string, now time.Time) error {
	if actor != i.Owner {
		return ErrNotOwner
	}
	if len(i.Images) >= maxImagesPerItem {
		return ErrTooManyImages
	}
	i.Images = append(i.Images, url)
	if now.IsZero() {
		now = time.Now()
	}
	i.UpdatedAt = now.UTC()
	return nil
}

type ItemPublishedEvent struct {
	events.BaseEvent
	Kind    string `json:"kind"`
	ItemID  string `json:"item_id"`
	OwnerID string `json:"owner_id"`
}

type Repository interface {
	ByRef(ctx context.Context, ref Ref) (*Item, error)
	Save(ctx context.Context, item *Item) error
	List(ctx context.Context, kind Kind, offset, limit int) ([]*Item, int, error)
}
