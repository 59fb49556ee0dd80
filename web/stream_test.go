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

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photocache/photocache/catalog"
	"github.com/photocache/photocache/filecache"
)

// fakeResolver serves a fixed library out of memory.
type fakeResolver struct {
	files    map[string]catalog.FileInfo
	fetchURL string
	body     []byte

	// Bounds of the most recent FetchRange call.
	lastStart int64
	lastEnd   int64
}

func (f *fakeResolver) List(_ context.Context) ([]catalog.FileInfo, error) {
	out := make([]catalog.FileInfo, 0, len(f.files))
	for _, fi := range f.files {
		out = append(out, fi)
	}
	return out, nil
}

func (f *fakeResolver) Resolve(_ context.Context, id string) (*catalog.Resolution, error) {
	fi, ok := f.files[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &catalog.Resolution{FileInfo: fi, FetchURL: f.fetchURL}, nil
}

func (f *fakeResolver) FetchRange(_ context.Context, _ *catalog.Resolution, start, end int64) (*http.Response, error) {
	f.lastStart, f.lastEnd = start, end
	total := int64(len(f.body))
	if start >= total {
		return &http.Response{
			StatusCode: http.StatusRequestedRangeNotSatisfiable,
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}, nil
	}
	if end < 0 || end >= total {
		end = total - 1
	}
	window := f.body[start : end+1]
	header := make(http.Header)
	header.Set("Content-Length", strconv.Itoa(len(window)))
	status := http.StatusOK
	if start > 0 {
		status = http.StatusPartialContent
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	}
	return &http.Response{
		StatusCode:    status,
		Header:        header,
		ContentLength: int64(len(window)),
		Body:          io.NopCloser(bytes.NewReader(window)),
	}, nil
}

func catalogFileInfo(id, mediaType string, size int64) catalog.FileInfo {
	return catalog.FileInfo{ID: id, Filename: id + ".mp4", SizeBytes: size, MediaType: mediaType}
}

func testBody(size int) []byte {
	body := make([]byte, size)
	for i := range body {
		body[i] = byte(i % 251)
	}
	return body
}

type testHarness struct {
	server     *Server
	store      *filecache.Store
	downloader *filecache.Downloader
	janitor    *filecache.Janitor
	resolver   *fakeResolver
	body       []byte
}

func newTestHarness(t *testing.T, id string, size int) *testHarness {
	body := testBody(size)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(upstream.Close)

	store, err := filecache.NewStore(t.TempDir())
	require.NoError(t, err)
	downloader := filecache.NewDownloader(store, upstream.Client(), filecache.DownloaderConfig{})

	resolver := &fakeResolver{
		files: map[string]catalog.FileInfo{
			id: {ID: id, Filename: id + ".mp4", SizeBytes: int64(size), DurationMS: 60_000, MediaType: "video"},
		},
		fetchURL: upstream.URL,
		body:     body,
	}
	janitor := filecache.NewJanitor(store, 20*time.Second, 20*time.Second, 5*time.Second, 2)
	server := NewServer(ServerConfig{
		Address:              "127.0.0.1:0",
		CleanupThreshold:     20 * time.Second,
		CompletedGraceFactor: 2,
	}, store, downloader, janitor, resolver)
	return &testHarness{server: server, store: store, downloader: downloader, janitor: janitor, resolver: resolver, body: body}
}

func (h *testHarness) request(t *testing.T, method, target, rangeHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestStreamMissStartsWorkerAndProxiesLive(t *testing.T) {
	h := newTestHarness(t, "vid-1", 300_000)

	rec := h.request(t, http.MethodGet, "/api/v1/files/vid-1/download", "bytes=0-")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache-Status"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.True(t, bytes.Equal(h.body, rec.Body.Bytes()))

	// The download-ahead worker was kicked exactly once.
	assert.Equal(t, int64(1), h.downloader.BeginCount())

	entry := h.store.Lookup("vid-1")
	require.NotNil(t, entry)
	require.Eventually(t, entry.Completed, 5*time.Second, 10*time.Millisecond)
}

func TestStreamClampsSeekToCacheFrontier(t *testing.T) {
	h := newTestHarness(t, "vid-1", 10_000_000)

	// Half the file is cached from an epoch that died; seek lands past the
	// frontier.
	require.NoError(t, os.WriteFile(h.store.BlobPath("vid-1"), h.body[:5_000_000], 0600))
	h.store.Touch("vid-1")

	rec := h.request(t, http.MethodGet, "/api/v1/files/vid-1/download", "bytes=6000000-")

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache-Status"))
	assert.Equal(t, "bytes 4999999-4999999/10000000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "1", rec.Header().Get("Content-Length"))

	// The byte served is the real one at that offset, not a zero filler.
	require.Equal(t, 1, rec.Body.Len())
	assert.Equal(t, h.body[4_999_999], rec.Body.Bytes()[0])
}

func TestStreamPartialBlobFromZeroAdvertisesFullSize(t *testing.T) {
	h := newTestHarness(t, "vid-1", 10_000_000)

	// Half the file is cached and the player asks for everything from byte
	// 0.  The response is a 200 covering only the cached prefix, so it must
	// carry Content-Range with the true file size or the player would treat
	// the short body as the whole file and never come back for the rest.
	require.NoError(t, os.WriteFile(h.store.BlobPath("vid-1"), h.body[:5_000_000], 0600))
	h.store.Touch("vid-1")

	rec := h.request(t, http.MethodGet, "/api/v1/files/vid-1/download", "bytes=0-")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache-Status"))
	assert.Equal(t, "5000000", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes 0-4999999/10000000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "0.0%", rec.Header().Get("X-Cache-Progress"))
	require.Equal(t, 5_000_000, rec.Body.Len())
	assert.True(t, bytes.Equal(h.body[:5_000_000], rec.Body.Bytes()))
}

func TestStreamLiveProxyIgnoresClientEndBound(t *testing.T) {
	h := newTestHarness(t, "vid-1", 100_000)

	rec := h.request(t, http.MethodGet, "/api/v1/files/vid-1/download", "bytes=0-499")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache-Status"))
	// The upstream fetch runs open-ended to end-of-file no matter what
	// bound the client sent; the player decides when to stop reading.
	assert.Equal(t, int64(0), h.resolver.lastStart)
	assert.Equal(t, int64(-1), h.resolver.lastEnd)
	assert.Equal(t, 100_000, rec.Body.Len())
}

func TestStreamServesBoundedRangeFromCompletedBlob(t *testing.T) {
	h := newTestHarness(t, "vid-1", 2_000_000)

	// Run a full download epoch so the blob is genuinely completed.
	require.True(t, h.downloader.Start("vid-1", h.resolver.fetchURL, 2_000_000))
	entry := h.store.Lookup("vid-1")
	require.NotNil(t, entry)
	require.Eventually(t, entry.Completed, 10*time.Second, 10*time.Millisecond)

	rec := h.request(t, http.MethodGet, "/api/v1/files/vid-1/download", "bytes=1500000-1999999")

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache-Status"))
	assert.Equal(t, "bytes 1500000-1999999/2000000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "500000", rec.Header().Get("Content-Length"))
	assert.Equal(t, "100.0%", rec.Header().Get("X-Cache-Progress"))
	assert.True(t, bytes.Equal(h.body[1_500_000:2_000_000], rec.Body.Bytes()))
}

func TestStreamRedirectsSeekOnEmptyCacheOnce(t *testing.T) {
	h := newTestHarness(t, "vid-1", 100_000)

	rec := h.request(t, http.MethodGet, "/api/v1/files/vid-1/download", "bytes=50000-")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/api/v1/files/vid-1/download?restarted=1", rec.Header().Get("Location"))

	// The follow-up request must not loop: it is served from byte 0.
	rec = h.request(t, http.MethodGet, "/api/v1/files/vid-1/download?restarted=1", "bytes=50000-")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache-Status"))
	assert.Equal(t, len(h.body), rec.Body.Len())
}

func TestStreamUnknownIdReturns404(t *testing.T) {
	h := newTestHarness(t, "vid-1", 1000)

	rec := h.request(t, http.MethodGet, "/api/v1/files/no-such/download", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamRangeBeyondCompletedFile(t *testing.T) {
	h := newTestHarness(t, "vid-1", 100_000)

	require.True(t, h.downloader.Start("vid-1", h.resolver.fetchURL, 100_000))
	entry := h.store.Lookup("vid-1")
	require.Eventually(t, entry.Completed, 5*time.Second, 10*time.Millisecond)

	rec := h.request(t, http.MethodGet, "/api/v1/files/vid-1/download", "bytes=100000-")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */100000", rec.Header().Get("Content-Range"))
}

func TestParseRange(t *testing.T) {
	cases := []struct {
		header string
		start  int64
		end    int64
	}{
		{"", 0, -1},
		{"bytes=0-", 0, -1},
		{"bytes=100-", 100, -1},
		{"bytes=100-199", 100, 199},
		{"bytes=100-50", 100, -1},
		{"bytes=0-0", 0, 0},
		{"bytes=100-199, 300-399", 100, 199},
		{"items=100-", 0, -1},
		{"bytes=abc-", 0, -1},
	}
	for _, tc := range cases {
		start, end := parseRange(tc.header)
		assert.Equal(t, tc.start, start, "header %q", tc.header)
		assert.Equal(t, tc.end, end, "header %q", tc.header)
	}
}
