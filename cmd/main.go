/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/forgelabs/forge"
	"github.com/forgelabs/forge/config"
	"github.com/forgelabs/forge/database"
	"github.com/forgelabs/forge/internal/cache"
	"github.com/forgelabs/forge/internal/notification"
	redis_db "github.com/forgelabs/forge/internal/redis-db"
	"github.com/forgelabs/forge/internal/storage"
)

type Forge struct {
	cmd *cobra.Command
}

// forgeInstance holds the runtime built by preRun and shared by every command.
type forgeInstance struct {
	forge   *forge.Forge
	cnf     *config.Configuration
	redis   *redis_db.Redis
	queue   *forge.Queue
	cleanup []func() error
}

func (app *forgeInstance) close() {
	for i := len(app.cleanup) - 1; i >= 0; i-- {
		if err := app.cleanup[i](); err != nil {
			logrus.WithError(err).Warn("failed to release resource")
		}
	}
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func preRun(app *forgeInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		// a missing .env is normal outside local development
		_ = godotenv.Load()

		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		// migrations only need the configuration
		if cmd.Name() == "up" || cmd.Name() == "down" || cmd.Name() == "config" {
			return nil
		}

		if err := setupForge(cmd.Context(), app); err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}
		return nil
	}
}

// setupForge connects the datasource, Redis, the webhook queue and the upload bucket, then builds Forge.
func setupForge(ctx context.Context, app *forgeInstance) error {
	cfg := app.cnf

	db, err := database.NewDataSource(cfg)
	if err != nil {
		return fmt.Errorf("error getting datasource: %v", err)
	}

	rdb, err := redis_db.FromConfig(cfg.Redis)
	if err != nil {
		return fmt.Errorf("error connecting to redis: %v", err)
	}
	app.redis = rdb
	app.cleanup = append(app.cleanup, rdb.Close)

	queue, err := forge.NewQueue(cfg)
	if err != nil {
		return fmt.Errorf("error creating queue: %v", err)
	}
	app.queue = queue
	app.cleanup = append(app.cleanup, queue.Close)

	opts := []forge.Option{
		forge.WithRedis(rdb.Client()),
		forge.WithCache(cache.NewCache(rdb.Client())),
		forge.WithQueue(queue),
	}

	if cfg.Storage.Enabled() {
		if ctx == nil {
			ctx = context.Background()
		}
		bucket, err := storage.NewBucket(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("error configuring upload bucket: %v", err)
		}
		opts = append(opts, forge.WithUploader(bucket))
	}

	f, err := forge.NewForge(db, opts...)
	if err != nil {
		return fmt.Errorf("error creating forge: %v", err)
	}
	app.forge = f
	return nil
}

// NewCLI builds the root command and its subcommands.
func NewCLI() *Forge {
	var configFile string
	app := &forgeInstance{}

	var rootCmd = &cobra.Command{
		Use:   "forge",
		Short: "Credit metered generation job orchestrator",
		Run:   func(cmd *cobra.Command, args []string) {},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./forge.json", "Configuration file for forge")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands())

	return &Forge{cmd: rootCmd}
}

func (w Forge) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
