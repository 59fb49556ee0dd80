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
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/photocache/photocache/catalog"
	"github.com/photocache/photocache/filecache"
	"github.com/photocache/photocache/metrics"
)

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

// copyWithTouch streams src to dst in chunks, refreshing the entry's access
// time at a bounded cadence so long-running live proxies stay eviction-safe.
func copyWithTouch(dst io.Writer, src io.Reader, entry *filecache.Entry) (written int64, err error) {
	buf := make([]byte, 256*1024)
	lastTouch := time.Now()
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, writeErr
			}
			if time.Since(lastTouch) >= 5*time.Second {
				entry.Touch()
				lastTouch = time.Now()
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// parseRange extracts (start, end) from a "bytes=start-end" header value.
// end is -1 for an open-ended range.  A malformed header is treated as if no
// range was sent, so a broken player still gets the file rather than a 4xx.
func parseRange(header string) (start, end int64) {
	end = -1
	if header == "" {
		return
	}
	value, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return
	}
	// Only the first range of a multi-range request is honored.
	value, _, _ = strings.Cut(value, ",")
	startStr, endStr, found := strings.Cut(value, "-")
	if !found {
		return
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || parsed < 0 {
		return 0, -1
	}
	start = parsed
	if endStr = strings.TrimSpace(endStr); endStr != "" {
		if parsed, err := strconv.ParseInt(endStr, 10, 64); err == nil && parsed >= start {
			end = parsed
		}
	}
	return
}

// StreamHandler is the range-serving entry point: it serves the requested
// window from the local blob whenever the blob can satisfy it, and otherwise
// proxies the remote source live while a download-ahead worker fills the blob
// in the background.
func (s *Server) StreamHandler(c *gin.Context) {
	id := c.Param("id")

	res, err := s.resolver.Resolve(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "file not found"})
			return
		}
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "failed to resolve file: " + err.Error()})
		return
	}

	entry := s.store.GetOrCreate(id)
	entry.Touch()

	start, end := parseRange(c.GetHeader("Range"))
	status := entry.Status()
	cachedLen := s.store.CachedSize(id)
	totalBytes := status.TotalBytes
	if totalBytes <= 0 {
		totalBytes = res.FileInfo.SizeBytes
	}

	if status.Completed && start >= totalBytes {
		c.Header("Content-Range", "bytes */"+formatInt(totalBytes))
		c.Status(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if cachedLen <= 0 && !status.Completed {
		// Nothing cached yet.  A seek into an empty cache cannot be honored;
		// redirect the player to the unranged resource exactly once so it
		// restarts from byte 0.
		if start > 0 {
			if c.Query("restarted") != "1" {
				location := c.Request.URL.Path + "?restarted=1"
				log.Debugf("Seek to %d on empty cache for %s; redirecting to start", start, id)
				c.Redirect(http.StatusFound, location)
				return
			}
			start = 0
		}
		s.serveLive(c, res, entry, start)
		return
	}

	// The blob can satisfy this request.  An incomplete blob never serves a
	// sparse range: a seek past the download frontier is clamped back inside
	// the cached prefix.
	if !status.Completed && start >= cachedLen {
		log.Debugf("Seek to %d races ahead of cache frontier %d for %s; clamping", start, cachedLen, id)
		start = cachedLen - 1
	}

	s.serveBlob(c, res, entry, start, end, cachedLen, totalBytes)
}

// serveBlob streams [start, ...] out of the local blob, sending only the
// bytes that are on disk right now.  The short response makes the player
// re-request the continuation, by which time the worker has cached more.
func (s *Server) serveBlob(c *gin.Context, res *catalog.Resolution, entry *filecache.Entry, start, end, cachedLen, totalBytes int64) {
	id := res.FileInfo.ID
	frontier := cachedLen
	if totalBytes > 0 && totalBytes < frontier {
		frontier = totalBytes
	}
	lastByte := frontier - 1
	if end >= 0 && end < lastByte {
		lastByte = end
	}
	if lastByte < start {
		lastByte = start
	}
	length := lastByte - start + 1

	reader, err := s.store.OpenRange(id, start, length)
	if err != nil {
		log.Warningf("Failed to open blob for %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to open cached file"})
		return
	}
	defer reader.Close()

	// A prior epoch may have failed and left this blob partial; re-kick the
	// worker now that our reader holds its own handle on the current file.
	status := entry.Status()
	if !status.Completed && !status.Downloading {
		s.downloader.Start(id, res.FetchURL, res.FileInfo.SizeBytes)
	}

	progress := filecache.ComputeProgress(status)
	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Type", "video/mp4")
	c.Header("Content-Length", formatInt(length))
	c.Header("X-Cache-Status", "HIT")
	c.Header("X-Cache-Progress", fmt.Sprintf("%.1f%%", progress.Percent))

	httpStatus := http.StatusOK
	if start > 0 {
		httpStatus = http.StatusPartialContent
	}
	// Any response shorter than the full object carries Content-Range, even
	// on a 200: the player needs the true file size to know this was a
	// partial window and to come back for the continuation.
	if start > 0 || lastByte+1 < totalBytes {
		c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, lastByte, totalBytes))
	}
	c.Status(httpStatus)

	metrics.StreamRequestsTotal.WithLabelValues("hit").Inc()
	n, err := io.Copy(c.Writer, reader)
	metrics.BytesServedTotal.WithLabelValues("cache").Add(float64(n))
	if err != nil {
		// Almost always the player hanging up mid-stream.
		log.Debugf("Cache stream for %s ended after %d/%d bytes: %v", id, n, length, err)
	}
}

// serveLive proxies from the remote source and makes sure a download-ahead
// worker is filling the blob for next time.  The upstream request always runs
// start..end-of-file regardless of any client end bound: the player can stop
// reading whenever it likes, and the open tail keeps the proxy stream alive
// for as long as it keeps playing.
func (s *Server) serveLive(c *gin.Context, res *catalog.Resolution, entry *filecache.Entry, start int64) {
	id := res.FileInfo.ID
	s.downloader.Start(id, res.FetchURL, res.FileInfo.SizeBytes)

	resp, err := s.resolver.FetchRange(c.Request.Context(), res, start, -1)
	if err != nil {
		metrics.StreamRequestsTotal.WithLabelValues("miss").Inc()
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "upstream fetch failed: " + err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		metrics.StreamRequestsTotal.WithLabelValues("miss").Inc()
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: fmt.Sprintf("upstream returned status %d", resp.StatusCode)})
		return
	}

	progress := filecache.ComputeProgress(entry.Status())
	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Type", "video/mp4")
	if v := resp.Header.Get("Content-Length"); v != "" {
		c.Header("Content-Length", v)
	}
	if v := resp.Header.Get("Content-Range"); v != "" {
		c.Header("Content-Range", v)
	}
	c.Header("X-Cache-Status", "MISS")
	c.Header("X-Cache-Progress", fmt.Sprintf("%.1f%%", progress.Percent))
	c.Status(resp.StatusCode)

	metrics.StreamRequestsTotal.WithLabelValues("miss").Inc()
	n, err := copyWithTouch(c.Writer, resp.Body, entry)
	metrics.BytesServedTotal.WithLabelValues("upstream").Add(float64(n))
	if err != nil {
		log.Debugf("Live proxy for %s ended after %d bytes: %v", id, n, err)
	}
}
