// Package local provides a filesystem-backed object store used in
// development and single-host deployments. Paths are rooted and
// traversal-checked; temporary URLs carry an expiring signed token.
package local

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mixforge/mixforge/internal/common"
	"github.com/mixforge/mixforge/internal/interfaces"
)

// ObjectStore implements interfaces.ObjectStore on a rooted directory tree
type ObjectStore struct {
	root    string
	urlBase string
	secret  []byte
	logger  arbor.ILogger
}

// NewObjectStore creates the store root if needed
func NewObjectStore(cfg *common.FilesystemConfig, logger arbor.ILogger) (*ObjectStore, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("filesystem root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create object store root: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate url signing secret: %w", err)
	}

	urlBase := cfg.URLBase
	if urlBase == "" {
		urlBase = "file://" + cfg.Root
	}

	return &ObjectStore{
		root:    cfg.Root,
		urlBase: strings.TrimRight(urlBase, "/"),
		secret:  secret,
		logger:  logger,
	}, nil
}

// resolve maps an object path to a filesystem path, rejecting traversal
func (s *ObjectStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	full := filepath.Join(s.root, clean)
	if !strings.HasPrefix(full, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid object path: %s", path)
	}
	return full, nil
}

func (s *ObjectStore) Exists(ctx context.Context, path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *ObjectStore) Delete(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %s: %w", path, err)
	}
	return nil
}

// Put streams r into the object path, creating parent directories.
// Returns the number of bytes written.
func (s *ObjectStore) Put(ctx context.Context, path string, r io.Reader) (int64, error) {
	full, err := s.resolve(path)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return 0, fmt.Errorf("failed to create object directory: %w", err)
	}

	// Write through a temp name so a partial write never looks like a
	// complete object.
	tmp := full + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create object file: %w", err)
	}

	n, err := io.Copy(f, r)
	closeErr := f.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmp)
		if err == nil {
			err = closeErr
		}
		return 0, fmt.Errorf("failed to write object %s: %w", path, err)
	}

	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to finalize object %s: %w", path, err)
	}
	return n, nil
}

func (s *ObjectStore) Size(ctx context.Context, path string) (int64, error) {
	full, err := s.resolve(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return 0, fmt.Errorf("failed to stat object %s: %w", path, err)
	}
	return info.Size(), nil
}

// TemporaryURL returns an expiring signed URL for the object
func (s *ObjectStore) TemporaryURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("object not found: %s", path)
	}

	expires := time.Now().Add(ttl).Unix()
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", path, expires)
	token := hex.EncodeToString(mac.Sum(nil))

	return s.urlBase + "/" + strings.TrimLeft(path, "/") +
		"?expires=" + strconv.FormatInt(expires, 10) + "&token=" + token, nil
}

var _ interfaces.ObjectStore = (*ObjectStore)(nil)
