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

// Package catalog talks to the remote media library.  It resolves an opaque
// file id to current metadata plus a short-lived signed fetch URL, and it
// keeps a short-term snapshot of the library listing so that request handling
// does not hammer the remote on every stream request.
package catalog

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// FileInfo is the metadata the remote library reports for one media object.
type FileInfo struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	SizeBytes    int64  `json:"size_bytes"`
	DurationMS   int64  `json:"duration_ms"`
	MediaType    string `json:"type"`
	Timestamp    int64  `json:"timestamp"`
	CollectionID string `json:"collection_id"`
}

// IsVideo reports whether the object is a video (the only type the streaming
// engine will serve).
func (fi FileInfo) IsVideo() bool {
	return fi.MediaType == "video"
}

// Resolution is a FileInfo paired with a fetch URL.  The URL is signed and
// short-lived; holders must be prepared to re-resolve when the remote starts
// rejecting it.
type Resolution struct {
	FileInfo
	FetchURL string
}

// Resolver is the catalog contract consumed by the rest of the server.
type Resolver interface {
	// Resolve returns current metadata and a fresh fetch URL for one id.
	Resolve(ctx context.Context, id string) (*Resolution, error)

	// List returns the current library listing (possibly from the snapshot
	// cache).
	List(ctx context.Context) ([]FileInfo, error)

	// FetchRange issues a byte-range GET against the object's fetch URL.
	// If the URL has gone stale (auth-style rejection from the remote), the
	// resolver re-resolves and retries exactly once.  The caller owns the
	// returned response body.
	FetchRange(ctx context.Context, res *Resolution, start, end int64) (*http.Response, error)
}

// ErrNotFound indicates the id is unknown to the remote library.
var ErrNotFound = errors.New("file not found in media library")

// ParseError indicates the remote's wire format did not contain a value where
// one was expected.
type ParseError struct {
	What string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unable to parse catalog response: %s", e.What)
}
