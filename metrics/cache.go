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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveDownloadWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "photocache_active_download_workers",
		Help: "Number of download-ahead workers currently running",
	})

	DownloadsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photocache_downloads_started_total",
		Help: "Number of download-ahead epochs started",
	})

	DownloadsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photocache_downloads_failed_total",
		Help: "Number of download-ahead epochs that ended in failure",
	})

	StreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photocache_stream_requests_total",
		Help: "Stream requests served, by cache disposition",
	}, []string{"status"}) // status is "hit" or "miss"

	BytesServedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photocache_bytes_served_total",
		Help: "Bytes sent to streaming clients, by source",
	}, []string{"source"}) // source is "cache" or "upstream"

	BlobsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photocache_blobs_evicted_total",
		Help: "Cache blobs removed by the eviction janitor",
	})

	CachedBlobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "photocache_cached_blobs",
		Help: "Number of blobs currently present in the cache directory",
	})
)
