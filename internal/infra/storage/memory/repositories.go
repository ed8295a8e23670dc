package memory

import (
	"context"
	"sort"
	"sync"

	"marketplace/internal/domain/anchors"
)

// AnchorRepository keeps listings and services in memory for local runs and tests.
type AnchorRepository struct {
	mu    sync.RWMutex
	items map[anchors.Ref]*anchors.Item
}

func NewAnchorRepository() *AnchorRepository {
	return &AnchorRepository{items: make(map[anchors.Ref]*anchors.Item)}
}

func (r *AnchorRepository) ByRef(ctx context.Context, ref anchors.Ref) (*anchors.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[ref]
	if !ok {
		return nil, anchors.ErrNotFound
	}
	return cloneItem(item), nil
}

func (r *AnchorRepository) Save(ctx context.Context, item *anchors.Item) error {
	if item == nil {
		return anchors.ErrInvalidRef
	}
	if err := item.Ref().Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.Ref()] = cloneItem(item)
	return nil
}

// List pages through one kind, newest first.
func (r *AnchorRepository) List(ctx context.Context, kind anchors.Kind, offset, limit int) ([]*anchors.Item, int, error) {
	r.mu.RLock()
	matches := make([]*anchors.Item, 0, len(r.items))
	for ref, item := range r.items {
		if ref.Kind == kind {
			matches = append(matches, item)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	total := len(matches)
	window := pageWindow(matches, offset, limit)
	out := make([]*anchors.Item, 0, len(window))
	for _, item := range window {
		out = append(out, cloneItem(item))
	}
	return out, total, nil
}

func cloneItem(item *anchors.Item) *anchors.Item {
	if item == nil {
		return nil
	}
	return &anchors.Item{
		Kind:        item.Kind,
		ID:          item.ID,
		Owner:       item.Owner,
		Title:       item.Title,
		Description: item.Description,
		Category:    item.Category,
		PriceCents:  item.PriceCents,
		Images:      append([]string(nil), item.Images...),
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
}

func pageWindow[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

var _ anchors.Repository = (*AnchorRepository)(nil)
