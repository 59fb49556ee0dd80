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

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const snapshotKey = "library"

// failureTTL bounds how long a failed listing attempt is remembered before
// the next caller triggers a fresh one.
const failureTTL = 15 * time.Second

type snapshotItem struct {
	files map[string]FileInfo
	err   error
}

// Client is the HTTP implementation of Resolver.
type Client struct {
	endpoint   string
	authToken  string
	timeout    time.Duration
	httpClient *http.Client

	snapshot *ttlcache.Cache[string, snapshotItem]
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for catalog and fetch
// requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a catalog client for the given remote endpoint.  The
// library listing is cached for snapshotTTL; concurrent misses are collapsed
// into a single upstream request.
func NewClient(endpoint, authToken string, snapshotTTL, timeout time.Duration, options ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		authToken:  authToken,
		timeout:    timeout,
		httpClient: http.DefaultClient,
	}
	for _, option := range options {
		option(c)
	}

	baseLoader := ttlcache.LoaderFunc[string, snapshotItem](
		func(cache *ttlcache.Cache[string, snapshotItem], key string) *ttlcache.Item[string, snapshotItem] {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()

			files, err := c.fetchListing(ctx)
			if err != nil {
				log.Warningln("Failed to refresh media library listing:", err)
				return cache.Set(key, snapshotItem{err: err}, failureTTL)
			}
			log.Debugf("Refreshed media library listing: %d files", len(files))
			return cache.Set(key, snapshotItem{files: files}, ttlcache.DefaultTTL)
		},
	)
	suppressedLoader := ttlcache.NewSuppressedLoader[string, snapshotItem](baseLoader, new(singleflight.Group))
	c.snapshot = ttlcache.New[string, snapshotItem](
		ttlcache.WithTTL[string, snapshotItem](snapshotTTL),
		ttlcache.WithLoader[string, snapshotItem](suppressedLoader),
		ttlcache.WithDisableTouchOnHit[string, snapshotItem](),
	)
	go c.snapshot.Start()

	return c
}

// Shutdown stops the snapshot cache's expiration goroutine.
func (c *Client) Shutdown() {
	c.snapshot.Stop()
}

// List implements Resolver.
func (c *Client) List(ctx context.Context) ([]FileInfo, error) {
	files, err := c.listing(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, len(files))
	for _, fi := range files {
		out = append(out, fi)
	}
	return out, nil
}

// Resolve implements Resolver.  Metadata comes from the (short-term cached)
// library snapshot; the fetch URL is requested fresh because the remote signs
// it with a short expiry.
func (c *Client) Resolve(ctx context.Context, id string) (*Resolution, error) {
	files, err := c.listing(ctx)
	if err != nil {
		return nil, err
	}
	fi, ok := files[id]
	if !ok {
		return nil, ErrNotFound
	}

	fetchURL, err := c.fetchDownloadURL(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Resolution{FileInfo: fi, FetchURL: fetchURL}, nil
}

// FetchRange implements Resolver.  A stale signed URL shows up as a 401/403
// from the remote; in that case the URL is re-resolved and the request is
// retried exactly once.
func (c *Client) FetchRange(ctx context.Context, res *Resolution, start, end int64) (*http.Response, error) {
	resp, err := c.rangeRequest(ctx, res.FetchURL, start, end)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}
	resp.Body.Close()

	log.Debugf("Fetch URL for %s rejected with %d; re-resolving", res.ID, resp.StatusCode)
	fetchURL, err := c.fetchDownloadURL(ctx, res.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to re-resolve stale fetch URL")
	}
	res.FetchURL = fetchURL
	return c.rangeRequest(ctx, fetchURL, start, end)
}

func (c *Client) rangeRequest(ctx context.Context, fetchURL string, start, end int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct upstream range request")
	}
	if end >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	} else {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "upstream range request failed")
	}
	return resp, nil
}

func (c *Client) listing(ctx context.Context) (map[string]FileInfo, error) {
	item := c.snapshot.Get(snapshotKey)
	if item == nil {
		return nil, errors.New("media library listing unavailable")
	}
	snap := item.Value()
	if snap.err != nil {
		return nil, snap.err
	}
	return snap.files, nil
}

// mediaItem is the remote's listing wire format for a single object.
type mediaItem struct {
	MediaKey     string `json:"media_key"`
	FileName     string `json:"file_name"`
	SizeBytes    int64  `json:"size_bytes"`
	Duration     int64  `json:"duration"`
	Type         int    `json:"type"`
	Timestamp    int64  `json:"timestamp"`
	CollectionID string `json:"collection_id"`
}

const mediaTypeVideo = 2

func (c *Client) fetchListing(ctx context.Context) (map[string]FileInfo, error) {
	body, err := c.apiGet(ctx, c.endpoint+"/v1/library/state")
	if err != nil {
		return nil, err
	}

	var items []mediaItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, errors.Wrap(err, "failed to decode library listing")
	}

	files := make(map[string]FileInfo, len(items))
	for _, item := range items {
		mediaType := "image"
		if item.Type == mediaTypeVideo {
			mediaType = "video"
		}
		files[item.MediaKey] = FileInfo{
			ID:           item.MediaKey,
			Filename:     item.FileName,
			SizeBytes:    item.SizeBytes,
			DurationMS:   item.Duration,
			MediaType:    mediaType,
			Timestamp:    item.Timestamp,
			CollectionID: item.CollectionID,
		}
	}
	return files, nil
}

func (c *Client) fetchDownloadURL(ctx context.Context, id string) (string, error) {
	body, err := c.apiGet(ctx, c.endpoint+"/v1/media/"+id+"/download")
	if err != nil {
		return "", err
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", errors.Wrap(err, "failed to decode download URL response")
	}
	return extractDownloadURL(payload)
}

// downloadURLPaths is the fallback chain of key paths under which the remote
// buries the signed download URL.  The protocol uses numeric field tags as
// object keys; which slot is populated varies by media variant.
var downloadURLPaths = [][]string{
	{"1", "5", "3", "5"},
	{"1", "5", "2", "6"},
	{"1", "5", "2", "5"},
}

// extractDownloadURL walks the nested numeric-keyed payload, trying each
// known path in order.
func extractDownloadURL(payload map[string]any) (string, error) {
	for _, path := range downloadURLPaths {
		if url, ok := lookupPath(payload, path); ok {
			return url, nil
		}
	}
	return "", &ParseError{What: "no download URL found in any known field"}
}

func lookupPath(payload map[string]any, path []string) (string, bool) {
	var cur any = payload
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[key]
		if !ok {
			return "", false
		}
	}
	url, ok := cur.(string)
	return url, ok && url != ""
}

func (c *Client) apiGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct catalog request")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "catalog request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("catalog request to %s returned status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read catalog response")
	}
	return body, nil
}
