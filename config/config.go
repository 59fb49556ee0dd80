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

// Package config initializes the process-wide configuration and logging for
// the photocache server.
package config

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/photocache/photocache/param"
)

var (
	initOnce sync.Once
	initErr  error

	clientOnce sync.Once
	httpClient *http.Client

	// version is overridden at build time via -ldflags.
	version = "dev"
)

// GetVersion returns the build version string.
func GetVersion() string {
	return version
}

// setDefaults registers the default value for every known parameter.
func setDefaults() {
	viper.SetDefault(param.Server_Address.GetName(), ":7860")
	viper.SetDefault(param.Logging_Level.GetName(), "info")

	viper.SetDefault(param.Cache_DataLocation.GetName(), filepath.Join(os.TempDir(), "photocache"))
	viper.SetDefault(param.Cache_CleanupThreshold.GetName(), 20*time.Second)
	viper.SetDefault(param.Cache_CleanupInterval.GetName(), 20*time.Second)
	viper.SetDefault(param.Cache_RecentAccessWindow.GetName(), 5*time.Second)
	viper.SetDefault(param.Cache_CompletedGraceFactor.GetName(), 2)
	viper.SetDefault(param.Cache_DownloadChunkSize.GetName(), 1024*1024)
	viper.SetDefault(param.Cache_SpeedSampleBytes.GetName(), 10*1024*1024)

	viper.SetDefault(param.Catalog_SnapshotTTL.GetName(), 5*time.Minute)
	viper.SetDefault(param.Catalog_RequestTimeout.GetName(), 30*time.Second)
}

// InitServer loads configuration from defaults, the optional config file, and
// PHOTOCACHE_-prefixed environment variables, then configures logging.
//
// Safe to call more than once; only the first call does any work.
func InitServer(cfgFile string) error {
	initOnce.Do(func() {
		setDefaults()

		viper.SetEnvPrefix("photocache")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()

		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				initErr = errors.Wrapf(err, "failed to read config file %s", cfgFile)
				return
			}
		} else {
			viper.SetConfigName("photocache")
			viper.SetConfigType("yaml")
			viper.AddConfigPath(".")
			viper.AddConfigPath("/etc/photocache")
			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					initErr = errors.Wrap(err, "failed to read config file")
					return
				}
			}
		}

		initErr = initLogging()
	})
	return initErr
}

func initLogging() error {
	levelStr := param.Logging_Level.GetString()
	if viper.GetBool("Logging.Debug") {
		levelStr = "debug"
	}
	level, err := log.ParseLevel(levelStr)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", levelStr)
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	return nil
}

// GetHTTPClient returns the shared client used for all upstream requests.
//
// Streaming transfers must not be bounded by a whole-request timeout, so the
// client carries none; the catalog package applies per-request timeouts via
// context instead.
func GetHTTPClient() *http.Client {
	clientOnce.Do(func() {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	})
	return httpClient
}
