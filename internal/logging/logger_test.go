// Package logging includes tests for the zap logger helpers.
package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

func TestNewForPurposeWritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "debug_BA.log")
	logger, closeFn, err := NewForPurpose(Options{Level: "warn", File: path}, "BA")
	require.NoError(t, err)

	logger.Debug("unit started", zap.String("source", "bge"))
	logger.Warn("unit failed", zap.String("source", "ewn"))
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2, "the file core records debug regardless of console level")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "unit failed", entry["msg"])
	assert.Equal(t, "BA", entry["purpose"])
	assert.Equal(t, "ewn", entry["source"])
	assert.Contains(t, entry, "ts")
}

func TestNewForPurposeWithoutFile(t *testing.T) {
	t.Parallel()

	logger, closeFn, err := NewForPurpose(Options{Development: true}, "")
	require.NoError(t, err)
	logger.Info("console only")
	assert.NoError(t, closeFn())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "", want: zapcore.InfoLevel},
		{in: "DEBUG", want: zapcore.DebugLevel},
		{in: " error ", want: zapcore.ErrorLevel},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
