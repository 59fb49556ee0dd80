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
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/photocache/photocache/catalog"
	"github.com/photocache/photocache/config"
	"github.com/photocache/photocache/filecache"
	"github.com/photocache/photocache/metrics"
)

// contentDisposition builds an attachment header that survives non-ASCII
// filenames (RFC 5987 filename* with a plain-ASCII fallback).
func contentDisposition(filename string) string {
	ascii := true
	for _, r := range filename {
		if r > 127 || r == '"' {
			ascii = false
			break
		}
	}
	if ascii {
		return `attachment; filename="` + filename + `"`
	}
	fallback := strings.Map(func(r rune) rune {
		if r > 127 || r == '"' {
			return '_'
		}
		return r
	}, filename)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, fallback, url.PathEscape(filename))
}

func toFileResponse(info catalog.FileInfo) FileResponse {
	mediaType := "photo"
	if info.IsVideo() {
		mediaType = "video"
	}
	return FileResponse{
		ID:         info.ID,
		Filename:   info.Filename,
		SizeBytes:  info.SizeBytes,
		DurationMS: info.DurationMS,
		MediaType:  mediaType,
		Timestamp:  info.Timestamp,
	}
}

// ListFilesHandler returns the library listing from the catalog snapshot.
// The optional type query parameter narrows the listing ("video" or "photo").
func (s *Server) ListFilesHandler(c *gin.Context) {
	files, err := s.resolver.List(c.Request.Context())
	if err != nil {
		log.Warningf("Library listing failed: %v", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "failed to list library: " + err.Error()})
		return
	}

	typeFilter := c.Query("type")
	resp := FileListResponse{Files: make([]FileResponse, 0, len(files))}
	for _, info := range files {
		fr := toFileResponse(info)
		if typeFilter != "" && fr.MediaType != typeFilter {
			continue
		}
		resp.Files = append(resp.Files, fr)
	}
	resp.Count = len(resp.Files)
	c.JSON(http.StatusOK, resp)
}

// FileInfoHandler returns metadata plus cache state for one item.
func (s *Server) FileInfoHandler(c *gin.Context) {
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

	c.JSON(http.StatusOK, gin.H{
		"file":  toFileResponse(res.FileInfo),
		"cache": s.cacheEntryStatus(id),
	})
}

// DirectDownloadHandler proxies the whole file from the upstream provider,
// bypassing the blob cache entirely.
func (s *Server) DirectDownloadHandler(c *gin.Context) {
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

	resp, err := s.resolver.FetchRange(c.Request.Context(), res, 0, -1)
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "upstream fetch failed: " + err.Error()})
		return
	}
	defer resp.Body.Close()

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", contentDisposition(res.FileInfo.Filename))
	if resp.ContentLength > 0 {
		c.Header("Content-Length", formatInt(resp.ContentLength))
	}
	c.Status(http.StatusOK)
	n, err := io.Copy(c.Writer, resp.Body)
	metrics.BytesServedTotal.WithLabelValues("upstream").Add(float64(n))
	if err != nil {
		log.Debugf("Direct download for %s ended early after %d bytes: %v", id, n, err)
	}
}

// CacheStatusHandler reports blob download state, for one id when the query
// parameter is present and for every known blob otherwise.
func (s *Server) CacheStatusHandler(c *gin.Context) {
	if id := c.Query("id"); id != "" {
		c.JSON(http.StatusOK, s.cacheEntryStatus(id))
		return
	}
	entries := s.store.Entries()
	resp := CacheStatusResponse{Entries: make([]CacheEntryStatus, 0, len(entries))}
	for id := range entries {
		resp.Entries = append(resp.Entries, s.cacheEntryStatus(id))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) cacheEntryStatus(id string) CacheEntryStatus {
	entry := s.store.Lookup(id)
	if entry == nil {
		return CacheEntryStatus{ID: id, Status: filecache.StateNotStarted}
	}
	status := entry.Status()
	progress := filecache.ComputeProgress(status)
	out := CacheEntryStatus{
		ID:              id,
		Status:          progress.State,
		Progress:        progress.Percent,
		SpeedBps:        progress.SpeedBps,
		ETASeconds:      progress.ETASeconds,
		BytesDownloaded: status.BytesDownloaded,
		TotalBytes:      status.TotalBytes,
		CachedBytes:     s.store.CachedSize(id),
	}
	if s.config.CleanupThreshold > 0 && !status.Downloading && !status.LastAccess.IsZero() {
		threshold := s.config.CleanupThreshold
		if status.Completed && s.config.CompletedGraceFactor > 1 {
			threshold *= time.Duration(s.config.CompletedGraceFactor)
		}
		remaining := (threshold - time.Since(status.LastAccess)).Seconds()
		if remaining < 0 {
			remaining = 0
		}
		out.SecondsUntilCleanup = &remaining
	}
	return out
}

// CacheResetHandler discards one blob and its tracking state so the next
// request starts a fresh download.
func (s *Server) CacheResetHandler(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.Reset(id); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to reset cache entry: " + err.Error()})
		return
	}
	log.Infof("Cache entry reset for %s", id)
	c.JSON(http.StatusOK, CacheResetResponse{ID: id, Reset: true})
}

// CacheClearHandler purges every blob, including residual files with no
// tracked entry.
func (s *Server) CacheClearHandler(c *gin.Context) {
	removed, freed, err := s.store.ClearAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to clear cache: " + err.Error()})
		return
	}
	log.Infof("Cache cleared: %d blobs, %d bytes", removed, freed)
	c.JSON(http.StatusOK, CacheClearResponse{Removed: removed, FreedBytes: freed})
}

// ForceCleanupHandler runs an eviction sweep on demand.  With ?all=true the
// idle thresholds are ignored and every blob without a running worker is
// evicted; otherwise it is a normal sweep run early.
func (s *Server) ForceCleanupHandler(c *gin.Context) {
	all := c.Query("all") == "true" || c.Query("all") == "1"
	evicted := s.janitor.ForceSweep(all)
	log.Infof("Forced cleanup (all=%v) evicted %d blobs", all, evicted)
	c.JSON(http.StatusOK, ForceCleanupResponse{Evicted: evicted, All: all})
}

// HeartbeatHandler is a keepalive probe; when an id is supplied its access
// time is stamped so paused playback does not get its blob evicted.
func (s *Server) HeartbeatHandler(c *gin.Context) {
	resp := HeartbeatResponse{Status: "alive", Time: time.Now().Unix()}
	if id := c.Query("id"); id != "" {
		s.store.Touch(id)
		status := s.cacheEntryStatus(id)
		resp.Cache = &status
	}
	c.JSON(http.StatusOK, resp)
}

// RedirectDownloadHandler sends the client straight to the upstream's signed
// fetch URL.  The URL is short-lived, so caching the redirect would hand out
// dead links.
func (s *Server) RedirectDownloadHandler(c *gin.Context) {
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
	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, res.FetchURL)
}

// HealthHandler reports process liveness.
func (s *Server) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"version":        config.GetVersion(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
