package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"marketplace/internal/app/commands"
	"marketplace/internal/app/dto"
	"marketplace/internal/app/handlers/catalog"
	"marketplace/internal/app/queries"
)

const maxImageBytes = 10 << 20

// CatalogHandler serves listings and services; kind selects the collection.
type CatalogHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

type createItemRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	PriceCents  int64  `json:"priceCents"`
}

func (h CatalogHandler) Create(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondFailure(c, http.StatusBadRequest, "invalid request")
			return
		}
		item, err := commands.Dispatch[catalog.CreateItemCommand, *dto.CatalogItem](c.Request.Context(), h.Commands, catalog.CreateItemCommand{
			OwnerID:     actorID(c),
			Kind:        kind,
			Title:       req.Title,
			Description: req.Description,
			Category:    req.Category,
			PriceCents:  req.PriceCents,
		})
		if err != nil {
			respondChatError(c, h.Logger, "create "+kind, err)
			return
		}
		respondOK(c, http.StatusCreated, item)
	}
}

func (h CatalogHandler) List(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := queries.Ask[catalog.ListItemsQuery, dto.CatalogPage](c.Request.Context(), h.Queries, catalog.ListItemsQuery{
			Kind:  kind,
			Page:  queryInt(c, "page", 1),
			Limit: queryInt(c, "limit", 0),
		})
		if err != nil {
			respondChatError(c, h.Logger, "list "+kind+"s", err)
			return
		}
		respondPage(c, page.Items, page.Pagination)
	}
}

func (h CatalogHandler) Get(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, err := queries.Ask[catalog.GetItemQuery, dto.CatalogItem](c.Request.Context(), h.Queries, catalog.GetItemQuery{
			Kind: kind,
			ID:   c.Param("id"),
		})
		if err != nil {
			respondChatError(c, h.Logger, "get "+kind, err)
			return
		}
		respondOK(c, http.StatusOK, item)
	}
}

// AttachImage expects a multipart form with the file under "image".
func (h CatalogHandler) AttachImage(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImageBytes)
		header, err := c.FormFile("image")
		if err != nil {
			respondFailure(c, http.StatusBadRequest, "image file is required")
			return
		}
		file, err := header.Open()
		if err != nil {
			respondFailure(c, http.StatusBadRequest, "image file is unreadable")
			return
		}
		defer file.Close()

		item, err := commands.Dispatch[catalog.AttachImageCommand, *dto.CatalogItem](c.Request.Context(), h.Commands, catalog.AttachImageCommand{
			OwnerID:     actorID(c),
			Kind:        kind,
			ItemID:      c.Param("id"),
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Reader:      file,
		})
		if err != nil {
			respondChatError(c, h.Logger, "attach image", err)
			return
		}
		respondOK(c, http.StatusOK, item)
	}
}

var _ CatalogHTTP = CatalogHandler{}
