// Package artifact provides the blob stores that hold extracted audio.
package artifact

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/ytmp3/am"
	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/pulse/async"
)

// MaxDeleteBatch is the most objects one DeleteBatch request may name.
const MaxDeleteBatch = 1000

// New builds the artifact store selected by cfg.Backend.
func New(ctx context.Context, cfg am.ArtifactsConfig, log *zap.SugaredLogger) (async.ArtifactStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", am.BackendFS:
		store, err := NewFSStore(cfg.Dir, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case am.BackendS3:
		store, err := NewS3Store(ctx, cfg.S3, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.WithHint(
			errors.Newf("unknown artifact backend %q", cfg.Backend),
			"Set artifacts.backend to \"fs\" or \"s3\"")
	}
}

// validName rejects names that would escape the store's namespace.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.Mark(errors.Newf("invalid artifact name %q", name), errors.ErrInvalidRequest)
	}
	return nil
}
