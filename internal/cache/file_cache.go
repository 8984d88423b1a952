// Package cache stores derived run results on disk, keyed by their inputs.
package cache

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/properties"
)

// entry is the on-disk form. Checksum covers the raw Data bytes so that a
// hand-edited file is rejected before it is decoded.
type entry struct {
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	Checksum  string          `json:"checksum"`
}

type CacheService[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T) error
	GenerateKey(params ...any) string
}

// FileCache keeps one JSON file per key. Entries older than MaxAge are
// treated as missing; zero keeps them forever.
type FileCache[T any] struct {
	MaxAge time.Duration

	cacheDir string
	now      func() time.Time
}

// NewFileCache keeps entries under <ROOT_PATH>/data/<subDir>.
func NewFileCache[T any](subDir string) *FileCache[T] {
	return NewFileCacheAt[T](properties.DataPath(subDir))
}

func NewFileCacheAt[T any](dir string) *FileCache[T] {
	return &FileCache[T]{cacheDir: dir, now: time.Now}
}

func (fc *FileCache[T]) Dir() string {
	return fc.cacheDir
}

// GenerateKey hashes the printed form of params.
func (fc *FileCache[T]) GenerateKey(params ...any) string {
	var sb strings.Builder
	for _, p := range params {
		fmt.Fprintf(&sb, "%v_", p)
	}
	sum := sha1.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// Get returns false for missing, expired, unreadable or tampered entries.
func (fc *FileCache[T]) Get(key string) (T, bool) {
	var zero T
	raw, err := os.ReadFile(fc.path(key))
	if err != nil {
		return zero, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return zero, false
	}
	if checksum(e.Data) != e.Checksum {
		return zero, false
	}
	if fc.MaxAge > 0 && fc.now().Sub(e.CreatedAt) > fc.MaxAge {
		return zero, false
	}
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return zero, false
	}
	return data, true
}

// Set writes the entry to a temporary file and renames it into place, so
// readers never see a partial entry.
func (fc *FileCache[T]) Set(key string, data T) error {
	if err := os.MkdirAll(fc.cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	raw, err := json.Marshal(entry{Data: payload, CreatedAt: fc.now(), Checksum: checksum(payload)})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	cacheFile := fc.path(key)
	tmpFile := cacheFile + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0644); err != nil {
		return fmt.Errorf("failed to write temp cache file: %w", err)
	}
	if err := os.Rename(tmpFile, cacheFile); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp cache file: %w", err)
	}
	return nil
}

// Delete removes key. A missing key is not an error.
func (fc *FileCache[T]) Delete(key string) error {
	if err := os.Remove(fc.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

func (fc *FileCache[T]) path(key string) string {
	return filepath.Join(fc.cacheDir, key+".json")
}

func checksum(raw []byte) string {
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}
