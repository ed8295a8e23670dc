package dto

import (
	"time"

	"marketplace/internal/domain/anchors"
)

type CatalogItem struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	OwnerID     string    `json:"ownerId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	PriceCents  int64     `json:"priceCents"`
	Images      []string  `json:"images"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CatalogPage struct {
	Items      []CatalogItem `json:"items"`
	Pagination Pagination    `json:"pagination"`
}

func MapCatalogItem(item *anchors.Item) CatalogItem {
	if item == nil {
		return CatalogItem{}
	}
	return CatalogItem{
		ID:          item.ID,
		Kind:        string(item.Kind),
		OwnerID:     string(item.Owner),
		Title:       item.Title,
		Description: item.Description,
		Category:    item.Category,
		PriceCents:  item.PriceCents,
		Images:      append([]string{}, item.Images...),
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
}
