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

// Package param provides typed accessors for the viper-backed configuration.
//
// Every configuration key the server understands is declared here; defaults
// are set in the config package at startup.  Accessors read through to the
// global viper instance so values reflect the config file, environment
// overrides, and any test-time viper.Set calls.
package param

import (
	"time"

	"github.com/spf13/viper"
)

type StringParam struct {
	name string
}

type IntParam struct {
	name string
}

type Int64Param struct {
	name string
}

type DurationParam struct {
	name string
}

func (sp StringParam) GetName() string {
	return sp.name
}

func (sp StringParam) GetString() string {
	return viper.GetString(sp.name)
}

func (ip IntParam) GetName() string {
	return ip.name
}

func (ip IntParam) GetInt() int {
	return viper.GetInt(ip.name)
}

func (ip Int64Param) GetName() string {
	return ip.name
}

func (ip Int64Param) GetInt64() int64 {
	return viper.GetInt64(ip.name)
}

func (dp DurationParam) GetName() string {
	return dp.name
}

func (dp DurationParam) GetDuration() time.Duration {
	return viper.GetDuration(dp.name)
}

var (
	Server_Address = StringParam{"Server.Address"}

	Logging_Level = StringParam{"Logging.Level"}

	Cache_DataLocation         = StringParam{"Cache.DataLocation"}
	Cache_CleanupThreshold     = DurationParam{"Cache.CleanupThreshold"}
	Cache_CleanupInterval      = DurationParam{"Cache.CleanupInterval"}
	Cache_RecentAccessWindow   = DurationParam{"Cache.RecentAccessWindow"}
	Cache_CompletedGraceFactor = IntParam{"Cache.CompletedGraceFactor"}
	Cache_DownloadChunkSize    = Int64Param{"Cache.DownloadChunkSize"}
	Cache_SpeedSampleBytes     = Int64Param{"Cache.SpeedSampleBytes"}

	Catalog_Endpoint       = StringParam{"Catalog.Endpoint"}
	Catalog_AuthToken      = StringParam{"Catalog.AuthToken"}
	Catalog_SnapshotTTL    = DurationParam{"Catalog.SnapshotTTL"}
	Catalog_RequestTimeout = DurationParam{"Catalog.RequestTimeout"}
)
