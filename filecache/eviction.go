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

package filecache

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/photocache/photocache/metrics"
)

// Janitor periodically evicts idle blobs from a Store.
type Janitor struct {
	store *Store
	// Threshold is how long a blob may sit unread before it becomes an
	// eviction candidate.
	Threshold time.Duration
	// Interval is how often the sweep runs.
	Interval time.Duration
	// RecentWindow guards blobs whose last access is extremely recent; a
	// candidate that was touched inside the window at delete time is spared.
	RecentWindow time.Duration
	// CompletedGraceFactor multiplies Threshold for fully-downloaded blobs,
	// which are cheap to keep and expensive to refetch.
	CompletedGraceFactor int
}

// NewJanitor creates a Janitor with the given sweep parameters.
func NewJanitor(store *Store, threshold, interval, recentWindow time.Duration, completedGraceFactor int) *Janitor {
	if completedGraceFactor < 1 {
		completedGraceFactor = 1
	}
	return &Janitor{
		store:                store,
		Threshold:            threshold,
		Interval:             interval,
		RecentWindow:         recentWindow,
		CompletedGraceFactor: completedGraceFactor,
	}
}

// Start launches the sweep loop in the error group; it exits cleanly when the
// context is canceled.
func (j *Janitor) Start(ctx context.Context, egrp *errgroup.Group) {
	egrp.Go(func() error {
		ticker := time.NewTicker(j.Interval)
		defer ticker.Stop()
		log.Debugln("Cache janitor started; sweep interval", j.Interval)
		for {
			select {
			case <-ticker.C:
				j.Sweep()
			case <-ctx.Done():
				log.Debugln("Cache janitor shutting down")
				return nil
			}
		}
	})
}

// Sweep runs one eviction pass over every entry in the store and reports how
// many blobs it evicted.
func (j *Janitor) Sweep() int {
	now := time.Now()
	evicted := 0
	for _, entry := range j.store.Entries() {
		if j.sweepOne(entry, now) {
			evicted++
		}
	}
	return evicted
}

// ForceSweep is the admin-triggered variant of Sweep.  With all set, every
// blob goes regardless of how recently it was read; otherwise the normal idle
// policy applies.  Blobs with a running worker are never touched either way.
func (j *Janitor) ForceSweep(all bool) int {
	if !all {
		return j.Sweep()
	}
	evicted := 0
	for _, entry := range j.store.Entries() {
		if j.forceOne(entry) {
			evicted++
		}
	}
	log.Infof("Forced cache cleanup evicted %d blobs", evicted)
	return evicted
}

func (j *Janitor) sweepOne(entry *Entry, now time.Time) bool {
	status := entry.Status()

	// A running worker is still appending to the blob; never evict it.
	if status.Downloading {
		return false
	}
	// Zero last-access means the entry was never read (or was just evicted);
	// nothing to reclaim until somebody touches it.
	if status.LastAccess.IsZero() {
		return false
	}

	idle := now.Sub(status.LastAccess)
	threshold := j.Threshold
	if status.Completed {
		threshold *= time.Duration(j.CompletedGraceFactor)
	}
	if idle <= threshold {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Re-check under the lock: a reader or worker may have raced the sweep.
	if entry.downloading {
		return false
	}
	last := entry.lastAccess.Load()
	if !last.IsZero() && time.Since(last) <= j.RecentWindow {
		log.Debugf("Sparing %s from eviction; accessed %s ago", entry.id, time.Since(last).Round(time.Millisecond))
		return false
	}

	if !j.evictLocked(entry) {
		return false
	}
	log.Infof("Evicted idle blob for %s (idle %s)", entry.id, idle.Round(time.Second))
	return true
}

func (j *Janitor) forceOne(entry *Entry) bool {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.downloading {
		return false
	}
	// Entries with no blob and no state are already empty; skip them so the
	// eviction count reflects real deletions.
	if !entry.completed && entry.bytesDownloaded.Load() == 0 {
		if _, err := os.Stat(j.store.BlobPath(entry.id)); os.IsNotExist(err) {
			return false
		}
	}

	if !j.evictLocked(entry) {
		return false
	}
	log.Infof("Force-evicted blob for %s", entry.id)
	return true
}

// evictLocked deletes the blob file and zeroes the entry.  Caller holds
// entry.mu.
func (j *Janitor) evictLocked(entry *Entry) bool {
	if err := os.Remove(j.store.BlobPath(entry.id)); err != nil && !os.IsNotExist(err) {
		// Leave the entry intact; the next sweep retries the delete.
		log.Warningf("Failed to evict blob for %s: %v", entry.id, err)
		return false
	}

	wasCompleted := entry.completed
	entry.zeroLocked()
	metrics.BlobsEvictedTotal.Inc()
	if wasCompleted {
		metrics.CachedBlobs.Dec()
	}
	return true
}
