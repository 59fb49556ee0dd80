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
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/photocache/photocache/metrics"
)

// Downloader runs at most one download-ahead worker per file id, streaming
// the full remote object into the id's blob.  Workers are deliberately
// independent of any request's lifetime: a client disconnect never cancels
// the download that the client triggered.
type Downloader struct {
	store       *Store
	httpClient  *http.Client
	chunkSize   int64
	speedSample int64

	active atomic.Int64
	begins atomic.Int64
}

// DownloaderConfig carries the tunables for download workers.
type DownloaderConfig struct {
	// ChunkSize is the copy buffer size (default 1 MiB).
	ChunkSize int64
	// SpeedSampleBytes is how often the speed estimate is recomputed
	// (default 10 MiB).
	SpeedSampleBytes int64
}

// NewDownloader creates a Downloader writing into the given store.
func NewDownloader(store *Store, httpClient *http.Client, config DownloaderConfig) *Downloader {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1024 * 1024
	}
	if config.SpeedSampleBytes <= 0 {
		config.SpeedSampleBytes = 10 * 1024 * 1024
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Downloader{
		store:       store,
		httpClient:  httpClient,
		chunkSize:   config.ChunkSize,
		speedSample: config.SpeedSampleBytes,
	}
}

// ActiveWorkers returns how many workers are currently running.
func (d *Downloader) ActiveWorkers() int64 {
	return d.active.Load()
}

// BeginCount returns how many download epochs have actually begun; used to
// verify the single-writer invariant.
func (d *Downloader) BeginCount() int64 {
	return d.begins.Load()
}

// Start launches a download-ahead worker for the id unless one is already
// running or the blob is already complete, in which case it is a no-op.
// Returns true if a new epoch began.
//
// The worker is fire-and-forget: failure is reported only through the entry
// state (downloading=false, completed=false), leaving a later request to
// re-trigger a fresh epoch.
func (d *Downloader) Start(id, fetchURL string, expectedSize int64) bool {
	entry := d.store.GetOrCreate(id)

	entry.mu.Lock()
	if entry.downloading || entry.completed {
		entry.mu.Unlock()
		return false
	}
	entry.downloading = true
	entry.bytesDownloaded.Store(0)
	entry.totalBytes.Store(expectedSize)
	entry.speedBps.Store(0)
	entry.downloadStart.Store(time.Now())
	entry.mu.Unlock()

	epoch := uuid.New().String()
	d.begins.Inc()
	d.active.Inc()
	metrics.DownloadsStartedTotal.Inc()
	metrics.ActiveDownloadWorkers.Inc()
	log.Infof("Starting download-ahead worker for %s (epoch %s, expected %d bytes)", id, epoch, expectedSize)

	go func() {
		defer func() {
			d.active.Dec()
			metrics.ActiveDownloadWorkers.Dec()
		}()
		if err := d.run(entry, id, fetchURL); err != nil {
			metrics.DownloadsFailedTotal.Inc()
			log.Warningf("Download-ahead worker for %s (epoch %s) failed: %v", id, epoch, err)

			entry.mu.Lock()
			entry.downloading = false
			entry.mu.Unlock()
			return
		}

		entry.mu.Lock()
		entry.downloading = false
		entry.completed = true
		entry.mu.Unlock()
		metrics.CachedBlobs.Inc()

		status := entry.Status()
		log.Infof("Download completed for %s: %d bytes in %s (epoch %s)",
			id, status.BytesDownloaded, time.Since(status.DownloadStart).Round(time.Millisecond), epoch)
	}()
	return true
}

// run performs one download epoch.  The blob is truncated and rewritten from
// byte 0 every time; a failed epoch is never resumed because the partial
// bytes cannot be validated against the remote object's current state.
func (d *Downloader) run(entry *Entry, id, fetchURL string) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, fetchURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to construct download request")
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "download request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("remote returned status %d", resp.StatusCode)
	}

	// The response's authoritative length wins over possibly-stale catalog
	// metadata; adopt it rather than aborting.
	if resp.ContentLength > 0 && resp.ContentLength != entry.totalBytes.Load() {
		log.Warningf("Size correction for %s: catalog said %d, remote says %d",
			id, entry.totalBytes.Load(), resp.ContentLength)
		entry.totalBytes.Store(resp.ContentLength)
	}

	// Restart-from-zero replaces the blob rather than truncating it in
	// place: readers holding the old file handle finish against the
	// detached inode.  The per-id lock covers the delete+recreate step.
	path := d.store.BlobPath(id)
	entry.mu.Lock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		entry.mu.Unlock()
		return errors.Wrap(err, "failed to remove stale blob file")
	}
	fp, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, os.FileMode(0600))
	entry.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "failed to create blob file")
	}
	defer fp.Close()

	var written int64
	var lastSample int64
	start := time.Now()
	buf := make([]byte, d.chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := fp.Write(buf[:n]); writeErr != nil {
				return errors.Wrap(writeErr, "failed to write blob chunk")
			}
			written += int64(n)
			entry.bytesDownloaded.Store(written)

			if written-lastSample >= d.speedSample {
				lastSample = written
				speed := Speed(written, time.Since(start))
				entry.speedBps.Store(speed)
				log.Debugf("Download progress for %s: %.1f%% (%.1f MB/s)",
					id, Percent(written, entry.totalBytes.Load()), speed/1024/1024)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.Wrap(readErr, "failed reading remote stream")
		}
	}

	if err := fp.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync blob file")
	}

	// Final size correction: the bytes on disk are the ground truth.
	if written != entry.totalBytes.Load() {
		entry.totalBytes.Store(written)
	}
	entry.speedBps.Store(Speed(written, time.Since(start)))
	return nil
}
