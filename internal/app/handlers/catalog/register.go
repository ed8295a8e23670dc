package catalog

import (
	"log/slog"
	"time"

	"marketplace/internal/app/commands"
	"marketplace/internal/app/outbox"
	"marketplace/internal/app/policies"
	"marketplace/internal/app/queries"
	"marketplace/internal/domain/anchors"
)

type Deps struct {
	Items    anchors.Repository
	Uploader policies.BlobUploader
	Outbox   outbox.Outbox
	Encoder  outbox.EventEncoder
	Clock    func() time.Time
	Logger   *slog.Logger
}

func Register(cmds *commands.InMemoryBus, qs *queries.InMemoryBus, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "catalog")

	commands.RegisterHandler(cmds, createItemKey, &CreateItemHandler{
		Items:   deps.Items,
		Outbox:  deps.Outbox,
		Encoder: deps.Encoder,
		Clock:   deps.Clock,
		Logger:  logger,
	})
	commands.RegisterHandler(cmds, attachImageKey, &AttachImageHandler{
		Items:    deps.Items,
		Uploader: deps.Uploader,
		Clock:    deps.Clock,
		Logger:   logger,
	})
	queries.RegisterHandler(qs, getItemKey, &GetItemHandler{Items: deps.Items})
	queries.RegisterHandler(qs, listItemsKey, &ListItemsHandler{Items: deps.Items})
}
