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

import "time"

// Download lifecycle states as reported by the status API.
const (
	StateNotStarted  = "not_started"
	StateDownloading = "downloading"
	StateCompleted   = "completed"
)

// minElapsed keeps speed math sane for samples taken immediately after a
// download starts.
const minElapsed = 100 * time.Millisecond

// Progress is the derived view of a download's counters.
type Progress struct {
	State      string  `json:"status"`
	Percent    float64 `json:"progress"`
	SpeedBps   float64 `json:"speed_bps"`
	ETASeconds float64 `json:"eta_seconds"`
}

// Speed returns the average transfer rate in bytes/sec for a download that
// has moved bytesDownloaded bytes over elapsed time.
func Speed(bytesDownloaded int64, elapsed time.Duration) float64 {
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	return float64(bytesDownloaded) / elapsed.Seconds()
}

// Percent returns download completion in [0, 100].  Transient disagreement
// between the counters (a stale declared size mid-correction) must never
// report more than 100.
func Percent(bytesDownloaded, totalBytes int64) float64 {
	if totalBytes <= 0 {
		return 0
	}
	pct := float64(bytesDownloaded) / float64(totalBytes) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// ETA returns the estimated seconds remaining; 0 when it cannot be estimated.
func ETA(bytesDownloaded, totalBytes int64, speedBps float64) float64 {
	if totalBytes <= 0 || speedBps <= 0 {
		return 0
	}
	remaining := totalBytes - bytesDownloaded
	if remaining <= 0 {
		return 0
	}
	return float64(remaining) / speedBps
}

// ComputeProgress derives the full progress view from an entry snapshot.
func ComputeProgress(status EntryStatus) Progress {
	switch {
	case status.Completed:
		return Progress{State: StateCompleted, Percent: 100}
	case status.Downloading:
		return Progress{
			State:      StateDownloading,
			Percent:    Percent(status.BytesDownloaded, status.TotalBytes),
			SpeedBps:   status.SpeedBps,
			ETASeconds: ETA(status.BytesDownloaded, status.TotalBytes, status.SpeedBps),
		}
	default:
		return Progress{State: StateNotStarted}
	}
}
