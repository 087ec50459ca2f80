// Package archive keeps a copy of every digest body that was handed to a
// delivery provider.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// Providers understood by the config layer.
const (
	ProviderNoop  = "noop"
	ProviderLocal = "local"
	ProviderGCS   = "gcs"
)

// Store persists a blob under key and returns a URI pointing at it.
type Store interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// Noop discards everything.
type Noop struct{}

// Put implements Store.
func (Noop) Put(_ context.Context, _ string, _ string, _ []byte) (string, error) {
	return "", nil
}

// Key builds the object key for a digest sent for purpose at the given time,
// e.g. "energie/2025/03/14/digest-20250314T070000Z.txt".
func Key(purpose string, at time.Time) string {
	at = at.UTC()
	p := strings.ToLower(strings.TrimSpace(purpose))
	if p == "" {
		p = "default"
	}
	return path.Join(
		p,
		fmt.Sprintf("%04d/%02d/%02d", at.Year(), at.Month(), at.Day()),
		"digest-"+at.Format("20060102T150405Z")+".txt",
	)
}
