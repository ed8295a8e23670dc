package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"marketplace/internal/domain/anchors"
	domainuser "marketplace/internal/domain/user"
)

type catalogFixture struct {
	Kind        string   `json:"kind"`
	ID          string   `json:"id"`
	Owner       string   `json:"owner"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	PriceCents  int64    `json:"price_cents"`
	Images      []string `json:"images"`
	CreatedAt   string   `json:"created_at"`
}

// loadCatalogFixtures seeds listings and services so conversations can be
// anchored on a fresh deployment. A missing file is not an error.
func (a *application) loadCatalogFixtures(ctx context.Context, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("catalog fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	var fixtures []catalogFixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	now := time.Now()
	imported := 0
	for _, fx := range fixtures {
		kind, err := anchors.ParseKind(fx.Kind)
		if err != nil {
			logger.Error("fixture has unknown kind", "item_id", fx.ID, "kind", fx.Kind)
			continue
		}
		created := now
		if t, err := time.Parse(time.RFC3339, fx.CreatedAt); err == nil {
			created = t
		}
		item, err := anchors.NewItem(anchors.CreateParams{
			Kind:        kind,
			ID:          fx.ID,
			Owner:       domainuser.ID(fx.Owner),
			Title:       fx.Title,
			Description: fx.Description,
			Category:    fx.Category,
			PriceCents:  fx.PriceCents,
			Now:         created,
		})
		if err != nil {
			logger.Error("fixture invalid", "item_id", fx.ID, "error", err)
			continue
		}
		item.Images = append(item.Images, fx.Images...)
		item.ClearEvents()
		if err := a.items.Save(ctx, item); err != nil {
			logger.Error("cannot store fixture item", "item_id", fx.ID, "error", err)
			continue
		}
		imported++
	}
	logger.Info("catalog fixtures imported", "path", path, "count", imported)
	return nil
}

func defaultFixturesPath() string {
	return filepath.Join("data", "catalog.json")
}
