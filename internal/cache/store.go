// Package cache persists cropped diagram images and hands out references
// that external renderers can load.
package cache

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidName is returned for names that do not belong to the store.
var ErrInvalidName = errors.New("invalid image name")

var nameRe = regexp.MustCompile(`^q_img_[0-9a-f-]{36}\.png$`)

// Store writes PNG crops under <dir>/images.
type Store struct {
	dir     string
	baseURL string
}

// New creates the image directory. With an empty baseURL references are
// file:// URIs; otherwise they are <baseURL>/images/<name>.
func New(dir, baseURL string) (*Store, error) {
	abs, err := filepath.Abs(filepath.Join(dir, "images"))
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{dir: abs, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Dir returns the absolute image directory.
func (s *Store) Dir() string { return s.dir }

// Save encodes img as PNG and returns its reference.
func (s *Store) Save(img image.Image) (string, error) {
	name := "q_img_" + uuid.NewString() + ".png"
	tmp, err := os.CreateTemp(s.dir, ".crop-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encode png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write crop: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("store crop: %w", err)
	}
	return s.Ref(name), nil
}

// Ref builds the reference for a stored name.
func (s *Store) Ref(name string) string {
	if s.baseURL != "" {
		return s.baseURL + "/images/" + name
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.dir, name))}).String()
}

// Path returns the file path for a stored name.
func (s *Store) Path(name string) (string, error) {
	if !nameRe.MatchString(name) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.dir, name), nil
}

// Resolve maps a reference issued by this store back to its local file.
func (s *Store) Resolve(ref string) (string, bool) {
	name := ref[strings.LastIndex(ref, "/")+1:]
	p, err := s.Path(name)
	if err != nil {
		return "", false
	}
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// Prune removes crops older than maxAge and returns how many were deleted.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !nameRe.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
