package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 14, 8, 0, 0, 0, time.FixedZone("CET", 3600))
	tests := []struct {
		name    string
		purpose string
		want    string
	}{
		{name: "purpose", purpose: "Energie", want: "energie/2025/03/14/digest-20250314T070000Z.txt"},
		{name: "blank", purpose: "  ", want: "default/2025/03/14/digest-20250314T070000Z.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Key(tt.purpose, at))
		})
	}
}

func TestNoop(t *testing.T) {
	t.Parallel()

	uri, err := Noop{}.Put(context.Background(), "k", "text/plain", []byte("x"))
	require.NoError(t, err)
	assert.Empty(t, uri)
}
