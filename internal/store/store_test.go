package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tender-watch/internal/tender"
)

func TestWrap(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Wrap("upsert", nil))

	base := errors.New("disk full")
	err := Wrap("upsert", base)
	var se *tender.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "upsert", se.Op)
	assert.ErrorIs(t, err, base)

	assert.Same(t, err, Wrap("commit", err))

	assert.ErrorIs(t, Wrap("lock", ErrRunInProgress), ErrRunInProgress)
}
