package keyword

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

var (
	// ErrNoKeywords reports a keyword file without a single usable line.
	ErrNoKeywords = errors.New("keyword file contains no keywords")
	// ErrMalformed reports a keyword file that is not valid UTF-8.
	ErrMalformed = errors.New("keyword file is not valid UTF-8")
)

// Parse reads one keyword per line. Blank lines and lines starting with '#'
// are skipped. Leading and trailing spaces are kept as boundary markers.
func Parse(data []byte) ([]string, error) {
	if !utf8.Valid(data) {
		return nil, ErrMalformed
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		out = append(out, strings.Trim(line, "\t"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan keywords: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNoKeywords
	}
	return out, nil
}

// LoadFile reads and parses a keyword file. A missing file is returned as an
// error wrapping fs.ErrNotExist.
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keywords %s: %w", path, err)
	}
	kws, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse keywords %s: %w", path, err)
	}
	return kws, nil
}

// Sources names the files a purpose's matcher is built from.
type Sources struct {
	KeywordFile   string
	ExclusionFile string
}

// FromFiles builds a Matcher for a purpose. The keyword file must exist; an
// empty or malformed one yields a matcher that matches nothing and a warning.
// The exclusion file is optional and is merged with opts.Exclusions.
func FromFiles(src Sources, opts Options, logger *zap.Logger) (*Matcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kws, err := LoadFile(src.KeywordFile)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoKeywords), errors.Is(err, ErrMalformed):
		logger.Warn("keyword set is empty, no record will match",
			zap.String("file", src.KeywordFile), zap.Error(err))
		kws = nil
	default:
		return nil, err
	}

	if src.ExclusionFile != "" {
		exc, err := LoadFile(src.ExclusionFile)
		switch {
		case err == nil:
			opts.Exclusions = append(append([]string(nil), opts.Exclusions...), exc...)
		case errors.Is(err, os.ErrNotExist), errors.Is(err, ErrNoKeywords):
			logger.Debug("no exclusion file", zap.String("file", src.ExclusionFile))
		default:
			return nil, err
		}
	}

	m := New(kws, opts)
	logger.Info("keywords loaded",
		zap.Int("keywords", m.Len()),
		zap.Int("exclusions", len(m.exclusions)),
		zap.Strings("fields", m.fields))
	return m, nil
}
