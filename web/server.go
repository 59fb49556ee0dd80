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

// Package web serves the streaming and cache-management HTTP API.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/photocache/photocache/catalog"
	"github.com/photocache/photocache/filecache"
)

const shutdownTimeout = 10 * time.Second

// Server represents the streaming API server.
type Server struct {
	address    string
	config     ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	store      *filecache.Store
	downloader *filecache.Downloader
	janitor    *filecache.Janitor
	resolver   catalog.Resolver
	startTime  time.Time
}

// ServerConfig holds configuration for the server.
type ServerConfig struct {
	Address string

	// Eviction policy knobs, mirrored here so status responses can report
	// how long each blob has left.
	CleanupThreshold     time.Duration
	CompletedGraceFactor int
}

// NewServer creates the streaming API server.
func NewServer(config ServerConfig, store *filecache.Store, downloader *filecache.Downloader, janitor *filecache.Janitor, resolver catalog.Resolver) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger())
	router.Use(recovery())

	server := &Server{
		address:    config.Address,
		config:     config,
		router:     router,
		store:      store,
		downloader: downloader,
		janitor:    janitor,
		resolver:   resolver,
		startTime:  time.Now(),
	}
	server.setupRoutes()
	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		api.GET("/files", s.ListFilesHandler)
		api.GET("/files/:id/info", s.FileInfoHandler)
		api.GET("/files/:id/download", s.StreamHandler)
		api.GET("/files/:id/download-direct", s.DirectDownloadHandler)
		api.GET("/files/:id/redirect", s.RedirectDownloadHandler)

		api.GET("/cache/status", s.CacheStatusHandler)
		api.POST("/cache/:id/reset", s.CacheResetHandler)
		api.POST("/cache/clear", s.CacheClearHandler)
		api.POST("/cache/force-cleanup", s.ForceCleanupHandler)

		api.GET("/heartbeat", s.HeartbeatHandler)
		api.POST("/heartbeat", s.HeartbeatHandler)
	}

	s.router.GET("/healthz", s.HealthHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start begins serving on the configured address and registers a graceful
// shutdown with the error group.
func (s *Server) Start(ctx context.Context, egrp *errgroup.Group) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.address)
	}

	s.httpServer = &http.Server{
		Handler: s.router,
		// No write timeout: streaming responses legitimately run for the
		// length of a video.
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	egrp.Go(func() error {
		log.Infof("Starting streaming API server on %s", listener.Addr())
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "streaming API server failed")
		}
		return nil
	})
	egrp.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down streaming API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return nil
}
