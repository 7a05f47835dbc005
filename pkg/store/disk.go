package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/cespare/xxhash/v2"
)

const fileSuffix = ".cache"

// Disk is the durable cache tier: one file per key under a single directory,
// the filename being the hex digest of the key and the contents the compressed
// blob. The directory listing is the only index. The tier is independent of the
// memory tier: it has no capacity bound and nothing removes files except Clear.
//
// Writes rely on filesystem-level atomicity only; concurrent writers to the
// same key-file are last-write-wins.
type Disk struct {
	dir string
}

// NewDisk creates the cache directory if needed and returns the tier.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Disk{dir: dir}, nil
}

// Dir returns the cache directory path.
func (d *Disk) Dir() string {
	return d.dir
}

// Put writes the compressed blob for key to its per-key file.
func (d *Disk) Put(key string, blob []byte) error {
	path := d.path(key)
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write cache file %s: %w", path, err)
	}
	return nil
}

// Get reads the compressed blob for key. The ok result is false when no file
// exists for the key; err reports actual read failures.
func (d *Disk) Get(key string) (blob []byte, ok bool, err error) {
	path := d.path(key)

	blob, err = os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache file %s: %w", path, err)
	}
	return blob, true, nil
}

// Clear deletes every cache file in the directory. Per-file failures are
// logged and skipped; a missing or unreadable directory is not fatal either.
func (d *Disk) Clear() {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		log.WithError(err).WithField("dir", d.dir).Error("listing cache dir")
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		path := filepath.Join(d.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.WithError(err).WithField("file", path).Error("removing cache file")
		}
	}
}

// Size returns the summed byte size of all cache files.
func (d *Disk) Size() int64 {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		log.WithError(err).WithField("dir", d.dir).Error("listing cache dir")
		return 0
	}

	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total
}

func (d *Disk) path(key string) string {
	digest := fmt.Sprintf("%016x", xxhash.Sum64String(key))
	return filepath.Join(d.dir, digest+fileSuffix)
}
