package artifact

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/teranos/ytmp3/am"
	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/pulse/async"
)

// FSStore keeps artifacts as flat files in one directory.
type FSStore struct {
	dir     string
	baseURL string
}

var _ async.ArtifactStore = (*FSStore)(nil)

// NewFSStore creates dir if needed. Locators are baseURL/name, or the
// absolute file path when baseURL is empty.
func NewFSStore(dir, baseURL string) (*FSStore, error) {
	if dir == "" {
		return nil, errors.New("artifact directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve artifact directory %s", dir)
	}
	if err := os.MkdirAll(abs, am.DefaultDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to create artifact directory %s", abs)
	}
	return &FSStore{dir: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the absolute storage directory
func (s *FSStore) Dir() string {
	return s.dir
}

// Locator returns the reference recorded on jobs for name.
func (s *FSStore) Locator(name string) string {
	if s.baseURL == "" {
		return filepath.Join(s.dir, name)
	}
	return s.baseURL + "/" + url.PathEscape(name)
}

func (s *FSStore) path(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

// Exists reports whether name is stored
func (s *FSStore) Exists(ctx context.Context, name string) (bool, error) {
	p, err := s.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to stat artifact %s", name)
	}
	return true, nil
}

// Upload writes r under name through a temp file and rename, so readers
// never see a partial artifact.
func (s *FSStore) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	p, err := s.path(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", errors.Wrapf(err, "failed to write artifact %s", name)
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrapf(err, "failed to close artifact %s", name)
	}
	if err := ctx.Err(); err != nil {
		return "", errors.Wrapf(err, "upload of %s cancelled", name)
	}
	if err := os.Chmod(tmp.Name(), am.DefaultFilePermissions); err != nil {
		return "", errors.Wrapf(err, "failed to chmod artifact %s", name)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", errors.Wrapf(err, "failed to move artifact %s into place", name)
	}
	return s.Locator(name), nil
}

// DeleteBatch removes names. Missing files are skipped; other failures are
// collected into an *async.DeleteError and the remaining names still attempted.
func (s *FSStore) DeleteBatch(ctx context.Context, names []string) error {
	var failed []string
	var errs error
	for _, name := range names {
		p, err := s.path(name)
		if err != nil {
			failed = append(failed, name)
			errs = errors.CombineErrors(errs, err)
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			failed = append(failed, name)
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "failed to delete artifact %s", name))
		}
	}
	if len(failed) > 0 {
		return &async.DeleteError{Failed: failed, Cause: errs}
	}
	return nil
}
