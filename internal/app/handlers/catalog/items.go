package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"marketplace/internal/app/commands"
	"marketplace/internal/app/dto"
	"marketplace/internal/app/outbox"
	"marketplace/internal/app/policies"
	"marketplace/internal/app/queries"
	"marketplace/internal/domain/anchors"
	"marketplace/internal/domain/messages"
	domainuser "marketplace/internal/domain/user"
)

const (
	createItemKey  = "catalog.items.create"
	attachImageKey = "catalog.items.images.attach"
	getItemKey     = "catalog.items.get"
	listItemsKey   = "catalog.items.list"
)

var ErrUploaderUnavailable = errors.New("catalog: image uploader unavailable")

type CreateItemCommand struct {
	OwnerID     string `validate:"required"`
	Kind        string `validate:"required,oneof=listing service"`
	Title       string `validate:"required,max=200"`
	Description string `validate:"max=5000"`
	Category    string `validate:"max=100"`
	PriceCents  int64  `validate:"gte=0"`
}

func (c CreateItemCommand) Key() string   { return createItemKey }
func (c CreateItemCommand) Actor() string { return c.OwnerID }

type CreateItemHandler struct {
	Items   anchors.Repository
	Outbox  outbox.Outbox
	Encoder outbox.EventEncoder
	Clock   func() time.Time
	Logger  *slog.Logger
}

func (h *CreateItemHandler) Handle(ctx context.Context, cmd CreateItemCommand) (*dto.CatalogItem, error) {
	if h.Items == nil {
		return nil, errors.New("catalog: item repository required")
	}
	kind, err := anchors.ParseKind(cmd.Kind)
	if err != nil {
		return nil, err
	}
	item, err := anchors.NewItem(anchors.CreateParams{
		Kind:        kind,
		ID:          uuid.NewString(),
		Owner:       domainuser.ID(cmd.OwnerID),
		Title:       cmd.Title,
		Description: cmd.Description,
		Category:    cmd.Category,
		PriceCents:  cmd.PriceCents,
		Now:         now(h.Clock),
	})
	if err != nil {
		return nil, err
	}
	if err := h.Items.Save(ctx, item); err != nil {
		return nil, err
	}
	if err := outbox.Drain(ctx, h.Outbox, h.Encoder, item); err != nil {
		return nil, err
	}
	if h.Logger != nil {
		h.Logger.Info("catalog item published", "kind", item.Kind, "item_id", item.ID, "owner_id", item.Owner)
	}
	out := dto.MapCatalogItem(item)
	return &out, nil
}

type AttachImageCommand struct {
	OwnerID     string `validate:"required"`
	Kind        string `validate:"required,oneof=listing service"`
	ItemID      string `validate:"required,max=128"`
	FileName    string `validate:"max=255"`
	ContentType string
	Reader      io.Reader `validate:"required"`
}

func (c AttachImageCommand) Key() string   { return attachImageKey }
func (c AttachImageCommand) Actor() string { return c.OwnerID }

type AttachImageHandler struct {
	Items    anchors.Repository
	Uploader policies.BlobUploader
	Clock    func() time.Time
	Logger   *slog.Logger
}

func (h *AttachImageHandler) Handle(ctx context.Context, cmd AttachImageCommand) (*dto.CatalogItem, error) {
	if h.Uploader == nil {
		return nil, ErrUploaderUnavailable
	}
	if h.Items == nil {
		return nil, errors.New("catalog: item repository required")
	}
	kind, err := anchors.ParseKind(cmd.Kind)
	if err != nil {
		return nil, err
	}
	item, err := h.Items.ByRef(ctx, anchors.Ref{Kind: kind, ID: cmd.ItemID})
	if err != nil {
		return nil, err
	}
	owner := domainuser.ID(cmd.OwnerID)
	if item.Owner != owner {
		return nil, anchors.ErrNotOwner
	}

	key := objectKey(item, cmd.FileName)
	publicURL, err := h.Uploader.Upload(ctx, key, cmd.Reader, cmd.ContentType)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if err := item.AttachImage(owner, publicURL, now(h.Clock)); err != nil {
		return nil, err
	}
	if err := h.Items.Save(ctx, item); err != nil {
		return nil, err
	}
	if h.Logger != nil {
		h.Logger.Info("catalog image attached", "item_id", item.ID, "object_key", key)
	}
	out := dto.MapCatalogItem(item)
	return &out, nil
}

func objectKey(item *anchors.Item, fileName string) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(fileName)))
	if len(ext) > 8 {
		ext = ""
	}
	return fmt.Sprintf("%ss/%s/%s%s", item.Kind, item.ID, uuid.NewString(), ext)
}

type GetItemQuery struct {
	Kind string `validate:"required,oneof=listing service"`
	ID   string `validate:"required,max=128"`
}

func (q GetItemQuery) Key() string { return getItemKey }

type GetItemHandler struct {
	Items anchors.Repository
}

func (h *GetItemHandler) Handle(ctx context.Context, q GetItemQuery) (dto.CatalogItem, error) {
	kind, err := anchors.ParseKind(q.Kind)
	if err != nil {
		return dto.CatalogItem{}, err
	}
	item, err := h.Items.ByRef(ctx, anchors.Ref{Kind: kind, ID: q.ID})
	if err != nil {
		return dto.CatalogItem{}, err
	}
	return dto.MapCatalogItem(item), nil
}

type ListItemsQuery struct {
	Kind  string `validate:"required,oneof=listing service"`
	Page  int    `validate:"gte=0"`
	Limit int    `validate:"gte=0"`
}

func (q ListItemsQuery) Key() string { return listItemsKey }

type ListItemsHandler struct {
	Items anchors.Repository
}

func (h *ListItemsHandler) Handle(ctx context.Context, q ListItemsQuery) (dto.CatalogPage, error) {
	kind, err := anchors.ParseKind(q.Kind)
	if err != nil {
		return dto.CatalogPage{}, err
	}
	page := messages.NewPage(q.Page, q.Limit)
	items, total, err := h.Items.List(ctx, kind, page.Offset(), page.Size)
	if err != nil {
		return dto.CatalogPage{}, err
	}
	out := dto.CatalogPage{
		Items: make([]dto.CatalogItem, 0, len(items)),
		Pagination: dto.Pagination{
			Page:  page.Number,
			Limit: page.Size,
			Total: total,
			Pages: messages.Pages(total, page.Size),
		},
	}
	for _, item := range items {
		out.Items = append(out.Items, dto.MapCatalogItem(item))
	}
	return out, nil
}

func now(clock func() time.Time) time.Time {
	if clock != nil {
		return clock().UTC()
	}
	return time.Now().UTC()
}

var (
	_ commands.Handler[CreateItemCommand, *dto.CatalogItem]  = (*CreateItemHandler)(nil)
	_ commands.Handler[AttachImageCommand, *dto.CatalogItem] = (*AttachImageHandler)(nil)
	_ queries.Handler[GetItemQuery, dto.CatalogItem]         = (*GetItemHandler)(nil)
	_ queries.Handler[ListItemsQuery, dto.CatalogPage]       = (*ListItemsHandler)(nil)
)
