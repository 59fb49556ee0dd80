/***************************************************************
 *
 * Copyright (C) 2025, PhotoCache Project
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

// Package filecache implements the download-ahead disk cache: the per-id
// status table, the background download workers that populate blobs, the
// range readers that serve them, and the janitor that reclaims disk space.
package filecache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/photocache/photocache/metrics"
)

const blobSuffix = ".mp4"

// Entry is the in-memory status for one cached file id.
//
// The mutex guards the downloading/completed flags and their transitions;
// it is held only for flag flips and the delete+recreate step of a reset,
// never across network or streaming I/O.  Counters are atomics so the
// download worker can update them without taking the lock per chunk.
type Entry struct {
	id string
	mu sync.Mutex

	downloading bool
	completed   bool

	bytesDownloaded atomic.Int64
	totalBytes      atomic.Int64
	speedBps        atomic.Float64
	downloadStart   atomic.Time
	lastAccess      atomic.Time
}

// EntryStatus is a point-in-time snapshot of an Entry, safe to hand to
// handlers and log lines.
type EntryStatus struct {
	ID              string
	Downloading     bool
	Completed       bool
	BytesDownloaded int64
	TotalBytes      int64
	SpeedBps        float64
	DownloadStart   time.Time
	LastAccess      time.Time
}

// Status returns a consistent snapshot of the entry.
func (e *Entry) Status() EntryStatus {
	e.mu.Lock()
	downloading := e.downloading
	completed := e.completed
	e.mu.Unlock()
	return EntryStatus{
		ID:              e.id,
		Downloading:     downloading,
		Completed:       completed,
		BytesDownloaded: e.bytesDownloaded.Load(),
		TotalBytes:      e.totalBytes.Load(),
		SpeedBps:        e.speedBps.Load(),
		DownloadStart:   e.downloadStart.Load(),
		LastAccess:      e.lastAccess.Load(),
	}
}

// Completed reports whether the blob holds the full object.
func (e *Entry) Completed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

// Downloading reports whether a worker currently owns the blob.
func (e *Entry) Downloading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.downloading
}

// TotalBytes returns the current authoritative object size (0 if unknown).
func (e *Entry) TotalBytes() int64 {
	return e.totalBytes.Load()
}

// Touch stamps the entry as accessed now.
func (e *Entry) Touch() {
	e.lastAccess.Store(time.Now())
}

// zeroLocked resets every field; the caller must hold e.mu.
func (e *Entry) zeroLocked() {
	e.downloading = false
	e.completed = false
	e.bytesDownloaded.Store(0)
	e.totalBytes.Store(0)
	e.speedBps.Store(0)
	e.downloadStart.Store(time.Time{})
	e.lastAccess.Store(time.Time{})
}

// Store is the single source of truth for per-id cache status and blob path
// resolution.  One Store owns one cache directory.
type Store struct {
	basePath string

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewStore creates a Store rooted at basePath, creating the directory if
// needed.  Residual blobs from a prior process run are NOT removed here;
// callers that want startup hygiene should follow with ClearAll.
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("cache data location is not set")
	}
	if err := os.MkdirAll(basePath, os.FileMode(0700)); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}
	return &Store{
		basePath: basePath,
		entries:  make(map[string]*Entry),
	}, nil
}

// BasePath returns the cache directory.
func (s *Store) BasePath() string {
	return s.basePath
}

// BlobPath derives the deterministic on-disk path for an id.  Ids from the
// catalog are URL-safe tokens; the separator guard keeps a hostile id from
// escaping the cache directory.
func (s *Store) BlobPath(id string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
	return filepath.Join(s.basePath, safe+blobSuffix)
}

// GetOrCreate returns the entry for an id, inserting a fresh zeroed one on
// first reference.  Never performs I/O.
func (s *Store) GetOrCreate(id string) *Entry {
	s.mu.RLock()
	entry := s.entries[id]
	s.mu.RUnlock()
	if entry != nil {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry = s.entries[id]; entry == nil {
		entry = &Entry{id: id}
		s.entries[id] = entry
	}
	return entry
}

// Lookup returns the entry for an id, or nil if the id has never been seen.
func (s *Store) Lookup(id string) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

// Entries returns a snapshot of the entry table.
func (s *Store) Entries() map[string]*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Entry, len(s.entries))
	for id, entry := range s.entries {
		out[id] = entry
	}
	return out
}

// CachedSize returns the on-disk blob length for an id; 0 if no blob exists.
// The file length is the ground truth for how much is cached.
func (s *Store) CachedSize(id string) int64 {
	fi, err := os.Stat(s.BlobPath(id))
	if err != nil {
		return 0
	}
	return fi.Size()
}

// Touch stamps the id as accessed now, creating the entry if needed.
func (s *Store) Touch(id string) {
	s.GetOrCreate(id).Touch()
}

// Reset deletes the blob (if present) and zeroes the entry state for one id.
// The last-access stamp is set to now so the fresh entry is not immediately
// eligible for eviction.  Idempotent; resetting an id with no prior activity
// leaves the same zeroed state.
func (s *Store) Reset(id string) error {
	entry := s.GetOrCreate(id)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Holding the lock across the delete keeps a restarting worker from
	// recreating the blob mid-removal; concurrent readers holding the old
	// file handle finish against the detached inode.
	if err := os.Remove(s.BlobPath(id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove blob for %s", id)
	}
	wasCompleted := entry.completed
	entry.zeroLocked()
	if wasCompleted {
		metrics.CachedBlobs.Dec()
	}
	entry.lastAccess.Store(time.Now())
	log.Debugf("Cache state reset for %s", id)
	return nil
}

// ClearAll deletes every blob in the cache directory and empties the entry
// table.  Used for the full-flush endpoint and for startup hygiene (residual
// blobs from a prior process run are purged before serving begins).
func (s *Store) ClearAll() (removed int, freed int64, err error) {
	s.mu.Lock()
	s.entries = make(map[string]*Entry)
	s.mu.Unlock()

	matches, globErr := filepath.Glob(filepath.Join(s.basePath, "*"+blobSuffix))
	if globErr != nil {
		return 0, 0, errors.Wrap(globErr, "failed to list cache directory")
	}
	for _, path := range matches {
		fi, statErr := os.Stat(path)
		if statErr == nil {
			freed += fi.Size()
		}
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warningf("Failed to remove residual blob %s: %v", path, rmErr)
			continue
		}
		removed++
	}
	metrics.CachedBlobs.Set(0)
	if removed > 0 {
		log.Infof("Cleared cache: %d blobs removed, %d bytes freed", removed, freed)
	}
	return removed, freed, nil
}
