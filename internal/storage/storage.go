// Package storage keeps a local journal of accepted cohort uploads.
package storage

import (
	"fmt"
	"strings"
	"time"
)

// Journal tracks fingerprints of uploads the API already accepted.
type Journal interface {
	Close() error
	SeenUpload(key string) (bool, error)
	MarkUpload(key string) error
}

// Options controls retention characteristics for concrete journal implementations.
type Options struct {
	UploadTTL       time.Duration
	CleanupInterval time.Duration
}

const (
	defaultUploadTTL       = 24 * time.Hour
	defaultCleanupInterval = 6 * time.Hour
)

// NewJournal creates the configured journal backend.
func NewJournal(typ, path string, opts Options) (Journal, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "none", "disabled":
		return noopJournal{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt journal requires a path")
		}
		j, err := openBolt(path, opts)
		if err != nil {
			return nil, err
		}
		return j, nil
	default:
		return nil, fmt.Errorf("unsupported journal type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.UploadTTL <= 0 {
		opts.UploadTTL = defaultUploadTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	return opts
}

type noopJournal struct{}

func (noopJournal) Close() error                    { return nil }
func (noopJournal) SeenUpload(string) (bool, error) { return false, nil }
func (noopJournal) MarkUpload(string) error         { return nil }
