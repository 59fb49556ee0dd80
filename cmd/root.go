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
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "photocache",
		Short: "Download-ahead streaming cache for a remote photo library",
		Long: `The photocache server sits between media players and a remote
photo library, caching large videos on local disk as they are first
watched so that seeking and replays are served at disk speed instead
of re-fetching from the remote provider.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Set the location of the config file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	if err := viper.BindPFlag("Logging.Debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command under a signal-aware context.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Errorln(err)
		return err
	}
	return nil
}
