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

package web

// ErrorResponse is the body returned for any failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FileResponse describes one library item.
type FileResponse struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	SizeBytes  int64  `json:"size_bytes"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	MediaType  string `json:"media_type"`
	Timestamp  int64  `json:"timestamp"`
}

// FileListResponse wraps the library listing.
type FileListResponse struct {
	Count int            `json:"count"`
	Files []FileResponse `json:"files"`
}

// CacheEntryStatus reports one blob's download state.
type CacheEntryStatus struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	Progress        float64 `json:"progress"`
	SpeedBps        float64 `json:"speed_bps"`
	ETASeconds      float64 `json:"eta_seconds"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	TotalBytes      int64   `json:"total_bytes"`
	CachedBytes     int64   `json:"cached_bytes"`

	// SecondsUntilCleanup is how long the blob survives without another
	// access; absent while downloading or before first access.
	SecondsUntilCleanup *float64 `json:"seconds_until_cleanup,omitempty"`
}

// CacheStatusResponse reports the whole cache.
type CacheStatusResponse struct {
	Entries []CacheEntryStatus `json:"entries"`
}

// CacheClearResponse reports the result of a purge.
type CacheClearResponse struct {
	Removed    int   `json:"removed"`
	FreedBytes int64 `json:"freed_bytes"`
}

// ForceCleanupResponse reports the result of an on-demand eviction sweep.
type ForceCleanupResponse struct {
	Evicted int  `json:"evicted"`
	All     bool `json:"all"`
}

// CacheResetResponse reports the result of a single-blob reset.
type CacheResetResponse struct {
	ID    string `json:"id"`
	Reset bool   `json:"reset"`
}

// HeartbeatResponse is returned by the keepalive endpoint.
type HeartbeatResponse struct {
	Status string            `json:"status"`
	Time   int64             `json:"time"`
	Cache  *CacheEntryStatus `json:"cache,omitempty"`
}
