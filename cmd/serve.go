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

package main

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/photocache/photocache/catalog"
	"github.com/photocache/photocache/config"
	"github.com/photocache/photocache/filecache"
	"github.com/photocache/photocache/param"
	"github.com/photocache/photocache/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streaming cache server",
	RunE:  servePhotoCache,
}

func init() {
	serveCmd.Flags().String("address", ":7860", "Address for the streaming API server to listen on")
	if err := viper.BindPFlag(param.Server_Address.GetName(), serveCmd.Flags().Lookup("address")); err != nil {
		panic(err)
	}
}

func servePhotoCache(cmd *cobra.Command, _ []string) error {
	if err := config.InitServer(cfgFile); err != nil {
		return errors.Wrap(err, "failed to initialize server configuration")
	}

	endpoint := param.Catalog_Endpoint.GetString()
	if endpoint == "" {
		return errors.New("Catalog.Endpoint must be configured")
	}

	store, err := filecache.NewStore(param.Cache_DataLocation.GetString())
	if err != nil {
		return errors.Wrap(err, "failed to initialize cache store")
	}

	// Blobs from a prior process run carry no tracking state; purge them
	// before serving begins.
	removed, freed, err := store.ClearAll()
	if err != nil {
		log.Warningf("Startup cache purge incomplete: %v", err)
	} else if removed > 0 {
		log.Infof("Startup cache purge removed %d residual blobs (%d bytes)", removed, freed)
	}

	resolver := catalog.NewClient(
		endpoint,
		param.Catalog_AuthToken.GetString(),
		param.Catalog_SnapshotTTL.GetDuration(),
		param.Catalog_RequestTimeout.GetDuration(),
		catalog.WithHTTPClient(config.GetHTTPClient()),
	)
	defer resolver.Shutdown()

	downloader := filecache.NewDownloader(store, config.GetHTTPClient(), filecache.DownloaderConfig{
		ChunkSize:        param.Cache_DownloadChunkSize.GetInt64(),
		SpeedSampleBytes: param.Cache_SpeedSampleBytes.GetInt64(),
	})

	janitor := filecache.NewJanitor(
		store,
		param.Cache_CleanupThreshold.GetDuration(),
		param.Cache_CleanupInterval.GetDuration(),
		param.Cache_RecentAccessWindow.GetDuration(),
		param.Cache_CompletedGraceFactor.GetInt(),
	)

	server := web.NewServer(web.ServerConfig{
		Address:              param.Server_Address.GetString(),
		CleanupThreshold:     param.Cache_CleanupThreshold.GetDuration(),
		CompletedGraceFactor: param.Cache_CompletedGraceFactor.GetInt(),
	}, store, downloader, janitor, resolver)

	egrp, ctx := errgroup.WithContext(cmd.Context())
	janitor.Start(ctx, egrp)
	if err := server.Start(ctx, egrp); err != nil {
		return err
	}

	log.Infoln("PhotoCache is ready; cache directory", store.BasePath())
	if err := egrp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Infoln("PhotoCache shut down cleanly")
	return nil
}
