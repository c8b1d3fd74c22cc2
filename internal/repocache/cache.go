// Package repocache caches board-specific constraint sources fetched from
// the upstream pcileech-fpga repository. Entries are keyed by board name
// and upstream commit; a populated entry is never refetched. The cache
// directory is shared between builds: writers take an exclusive flock,
// readers a shared one, and readers may observe the pre-write state.
package repocache

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
)

// DefaultTimeout bounds the single upstream fetch per build.
const DefaultTimeout = 30 * time.Second

// DefaultUpstreamURL is the raw-content base for board constraint files.
const DefaultUpstreamURL = "https://raw.githubusercontent.com/ufrisk/pcileech-fpga"

// Entry is one cached constraint source.
type Entry struct {
	Board    string
	Commit   string
	Path     string
	Checksum string
}

// Cache is a read-mostly directory of fetched constraint files.
type Cache struct {
	Dir     string
	BaseURL string
	Timeout time.Duration

	client *http.Client
}

// New creates a cache rooted at dir.
func New(dir string) *Cache {
	return &Cache{
		Dir:     dir,
		BaseURL: DefaultUpstreamURL,
		Timeout: DefaultTimeout,
	}
}

// entryPath returns the on-disk location for a (board, commit) key.
func (c *Cache) entryPath(boardName, commit string) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s-%s.xdc", boardName, commit))
}

// Get returns the cached entry for (board, commit), or nil when absent.
// The read takes a shared lock so it never observes a half-written file.
func (c *Cache) Get(boardName, commit string) (*Entry, []byte, error) {
	path := c.entryPath(boardName, commit)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fwerr.Wrap(fwerr.IoError, err, "open cache entry %s", path)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return nil, nil, fwerr.Wrap(fwerr.IoError, err, "lock cache entry %s", path)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fwerr.Wrap(fwerr.IoError, err, "read cache entry %s", path)
	}

	return &Entry{
		Board:    boardName,
		Commit:   commit,
		Path:     path,
		Checksum: checksum(data),
	}, data, nil
}

// Fetch returns the cached constraint text for (board, commit), fetching
// from upstream exactly once when the entry is absent. A failed fetch
// returns CacheFetchError; callers fall back to the built-in template.
func (c *Cache) Fetch(boardName, commit string) (*Entry, []byte, error) {
	if entry, data, err := c.Get(boardName, commit); err != nil || entry != nil {
		return entry, data, err
	}

	data, err := c.download(boardName, commit)
	if err != nil {
		return nil, nil, err
	}

	entry, err := c.put(boardName, commit, data)
	if err != nil {
		return nil, nil, err
	}
	return entry, data, nil
}

// download performs the single bounded upstream request.
func (c *Cache) download(boardName, commit string) ([]byte, error) {
	if c.client == nil {
		c.client = &http.Client{Timeout: c.Timeout}
	}

	url := fmt.Sprintf("%s/%s/%s/vivado_constraints.xdc", c.BaseURL, commit, boardName)
	resp, err := c.client.Get(url)
	if err != nil {
		return nil, fwerr.Wrap(fwerr.CacheFetchError, err, "fetch %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fwerr.New(fwerr.CacheFetchError, "fetch %s: HTTP %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fwerr.Wrap(fwerr.CacheFetchError, err, "fetch %s", url)
	}
	return data, nil
}

// put writes an entry under an exclusive lock. One writer, many readers.
func (c *Cache) put(boardName, commit string, data []byte) (*Entry, error) {
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return nil, fwerr.Wrap(fwerr.IoError, err, "create cache dir %s", c.Dir)
	}

	path := c.entryPath(boardName, commit)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fwerr.Wrap(fwerr.IoError, err, "create cache entry %s", path)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return nil, fwerr.Wrap(fwerr.IoError, err, "lock cache entry %s", path)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if err := f.Truncate(0); err != nil {
		return nil, fwerr.Wrap(fwerr.IoError, err, "truncate cache entry %s", path)
	}
	if _, err := f.Write(data); err != nil {
		return nil, fwerr.Wrap(fwerr.IoError, err, "write cache entry %s", path)
	}

	return &Entry{
		Board:    boardName,
		Commit:   commit,
		Path:     path,
		Checksum: checksum(data),
	}, nil
}

// Put stores externally supplied content (used by tests and offline seeds).
func (c *Cache) Put(boardName, commit string, data []byte) (*Entry, error) {
	return c.put(boardName, commit, data)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}
