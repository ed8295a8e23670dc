package anchors_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/domain/anchors"
)

func TestRefFromRequiresExactlyOne(t *testing.T) {
	ref, err := anchors.RefFrom(" bike ", "")
	require.NoError(t, err)
	assert.Equal(t, anchors.Ref{Kind: anchors.KindListing, ID: "bike"}, ref)
	assert.Equal(t, "listing:bike", ref.String())

	ref, err = anchors.RefFrom("", "repair")
	require.NoError(t, err)
	assert.Equal(t, anchors.KindService, ref.Kind)

	_, err = anchors.RefFrom("bike", "repair")
	assert.ErrorIs(t, err, anchors.ErrInvalidRef)
	_, err = anchors.RefFrom("", "  ")
	assert.ErrorIs(t, err, anchors.ErrInvalidRef)

	assert.ErrorIs(t, anchors.Ref{Kind: "car", ID: "x"}.Validate(), anchors.ErrInvalidRef)
}

func TestParseKind(t *testing.T) {
	kind, err := anchors.ParseKind(" Service ")
	require.NoError(t, err)
	assert.Equal(t, anchors.KindService, kind)
	_, err = anchors.ParseKind("listings")
	assert.ErrorIs(t, err, anchors.ErrUnknownKind)
}

func TestNewItem(t *testing.T) {
	item, err := anchors.NewItem(anchors.CreateParams{
		Kind:       anchors.KindListing,
		ID:         "bike",
		Owner:      "bob",
		Title:      strings.Repeat("t", 250),
		PriceCents: 1000,
	})
	require.NoError(t, err)
	assert.Len(t, item.Title, 200)
	assert.Len(t, item.PendingEvents(), 1)

	_, err = anchors.NewItem(anchors.CreateParams{Kind: anchors.KindListing, ID: "x", Owner: "bob", Title: " "})
	assert.ErrorIs(t, err, anchors.ErrTitleRequired)
	_, err = anchors.NewItem(anchors.CreateParams{Kind: anchors.KindListing, ID: "x", Owner: "bob", Title: "t", PriceCents: -1})
	assert.ErrorIs(t, err, anchors.ErrNegativePrice)
	_, err = anchors.NewItem(anchors.CreateParams{Kind: anchors.KindListing, ID: "x", Title: "t"})
	assert.ErrorIs(t, err, anchors.ErrOwnerRequired)
}

func TestAttachImage(t *testing.T) {
	item, err := anchors.NewItem(anchors.CreateParams{Kind: anchors.KindService, ID: "s", Owner: "bob", Title: "Repair"})
	require.NoError(t, err)

	assert.ErrorIs(t, item.AttachImage("alice", "u", time.Now()), anchors.ErrNotOwner)
	for i := 0; i < 10; i++ {
		require.NoError(t, item.AttachImage("bob", "u", time.Now()))
	}
	assert.ErrorIs(t, item.AttachImage("bob", "u", time.Now()), anchors.ErrTooManyImages)
	assert.Len(t, item.Images, 10)
}
