package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tender-watch/internal/events"
)

func TestPublisherStoresEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), events.Event{Type: events.TypeRunCompleted, Purpose: "energie"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), events.Event{Type: events.TypeDigestSent, Purpose: "energie"})
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	got := pub.Events()
	require.Len(t, got, 2)
	assert.Equal(t, events.TypeRunCompleted, got[0].Type)
	assert.Equal(t, events.TypeDigestSent, got[1].Type)

	got[0].Purpose = "modified"
	assert.Equal(t, "energie", pub.Events()[0].Purpose, "Events must return a copy")
}
