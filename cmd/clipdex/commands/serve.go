// Package commands holds the clipdex CLI commands.
package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/clipdex/clipdex/classify"
	"github.com/clipdex/clipdex/config"
	"github.com/clipdex/clipdex/errors"
	"github.com/clipdex/clipdex/job"
	"github.com/clipdex/clipdex/kv"
	"github.com/clipdex/clipdex/logger"
	"github.com/clipdex/clipdex/queue"
	"github.com/clipdex/clipdex/server"
	"github.com/clipdex/clipdex/video"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// NewServeCommand starts the HTTP server and job engine.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the clipdex HTTP server and job engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logger.Named("serve")

			db, err := sql.Open("sqlite3", cfg.Database.Path)
			if err != nil {
				return errors.Wrapf(err, "failed to open database %s", cfg.Database.Path)
			}
			defer db.Close()

			store, err := kv.NewSQLite(db)
			if err != nil {
				return err
			}
			videos, err := video.NewStore(db)
			if err != nil {
				return err
			}
			stats := video.NewStatsCache(store, videos)

			gateway := classify.NewClient(classify.ClientConfig{
				BaseURL:        cfg.Classify.BaseURL,
				APIKey:         cfg.Classify.APIKey,
				Model:          cfg.Classify.Model,
				MaxTokens:      cfg.Classify.MaxTokens,
				Temperature:    cfg.Classify.Temperature,
				Timeout:        cfg.Classify.Timeout(),
				CallsPerMinute: cfg.Classify.CallsPerMinute,
			})

			ledger := job.NewLedger(store, cfg.Jobs.ActiveTTL(), cfg.Jobs.TerminalTTL())
			progress := job.NewProgressPublisher(store, cfg.Jobs.ActiveTTL())
			processor := job.NewBatchProcessor(ledger, gateway, server.NewLibrary(videos), stats, progress)
			step := job.NewStepRunner(processor, cfg.Jobs.BatchSize)
			runner := job.NewConcurrentRunner(processor, ledger, progress,
				cfg.Jobs.Workers, cfg.Jobs.BatchSize, cfg.Jobs.PausePoll())

			var dispatcher queue.Dispatcher
			if cfg.Queue.PublishURL != "" {
				dispatcher = queue.NewHTTPDispatcher(queue.HTTPDispatcherConfig{
					PublishURL:       cfg.Queue.PublishURL,
					WorkerURL:        cfg.Queue.WorkerURL,
					Token:            cfg.Queue.Token,
					PublishPerSecond: float64(cfg.Queue.PublishPerSecond),
					Timeout:          cfg.Queue.Timeout(),
				})
				log.Infow("queue dispatch enabled", "publish_url", cfg.Queue.PublishURL)
			} else {
				dispatcher = queue.NewNop()
				log.Infow("queue dispatch disabled, jobs run in-process")
			}

			srv := server.New(cfg, server.Deps{
				Ledger:     ledger,
				Step:       step,
				Runner:     runner,
				Progress:   progress,
				Videos:     videos,
				Stats:      stats,
				Dispatcher: dispatcher,
			})
			defer srv.Shutdown()

			log.Infow("clipdex starting", "port", cfg.Server.Port, "db", cfg.Database.Path)
			return srv.ListenAndServe()
		},
	}
}
