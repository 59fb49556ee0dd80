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
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

// touchInterval bounds how often a streaming reader refreshes the entry's
// access time; once per copy chunk would be needlessly hot.
const touchInterval = 5 * time.Second

// BlobReader streams a byte range out of a blob file.  The range's end is a
// snapshot of the cache frontier taken when the reader is opened: bytes a
// concurrent worker appends afterwards are not served by this reader, so the
// response length the caller advertised stays truthful.
type BlobReader struct {
	entry     *Entry
	fp        *os.File
	remaining int64
	lastTouch time.Time
}

// OpenRange opens a reader over [start, start+length) of the id's blob.  The
// caller must have already clamped length to the bytes actually on disk.
func (s *Store) OpenRange(id string, start, length int64) (*BlobReader, error) {
	entry := s.GetOrCreate(id)
	fp, err := os.Open(s.BlobPath(id))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open blob for %s", id)
	}
	if _, err := fp.Seek(start, io.SeekStart); err != nil {
		fp.Close()
		return nil, errors.Wrapf(err, "failed to seek blob for %s", id)
	}
	entry.Touch()
	return &BlobReader{
		entry:     entry,
		fp:        fp,
		remaining: length,
		lastTouch: time.Now(),
	}, nil
}

// Read implements io.Reader, stopping at the frontier snapshot.
func (r *BlobReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.fp.Read(p)
	r.remaining -= int64(n)

	// Long-running streams keep the entry warm so the janitor does not
	// evict a blob somebody is actively watching.
	if time.Since(r.lastTouch) >= touchInterval {
		r.entry.Touch()
		r.lastTouch = time.Now()
	}
	if err == io.EOF && r.remaining > 0 {
		// The blob is shorter than the frontier snapshot promised; surface
		// a real error rather than a silent truncation.
		return n, errors.New("blob truncated below the advertised range")
	}
	return n, err
}

// Close releases the underlying file handle.
func (r *BlobReader) Close() error {
	return r.fp.Close()
}
