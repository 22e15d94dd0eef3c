package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/chansync/chansync/pkg/config"
	"github.com/chansync/chansync/pkg/fs"
	"github.com/chansync/chansync/pkg/model"
	"github.com/chansync/chansync/pkg/report"
	"github.com/chansync/chansync/pkg/scraper"
	"github.com/chansync/chansync/pkg/storage"
	"github.com/chansync/chansync/pkg/thumbnail"
	"github.com/chansync/chansync/pkg/youtube"
)

type Opts struct {
	ConfigPath string `long:"config" short:"c" default:"config.toml" env:"CHANSYNC_CONFIG_PATH"`
	Debug      bool   `long:"debug"`
	DryRun     bool   `long:"dry-run" description:"compute diffs without writing anything"`
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := Opts{}
	_, err := flags.Parse(&opts)
	if err != nil {
		log.WithError(err).Fatal("failed to parse command line arguments")
	}

	if opts.Debug {
		log.SetLevel(log.DebugLevel)
	}

	log.WithFields(log.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("running chansync")

	log.Debugf("loading configuration %q", opts.ConfigPath)
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration file")
	}

	var reporter report.Reporter = report.Log{}
	if cfg.Sentry.DSN != "" {
		sentry, err := report.NewSentry(cfg.Sentry.DSN)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize error tracking")
		}
		defer sentry.Close()
		reporter = sentry
	}

	db, err := storage.NewPostgres(cfg.Database.URL, reporter)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}

	objects, err := fs.NewS3(cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize object storage")
	}

	source, err := youtube.New(ctx, cfg.Tokens.YouTube)
	if err != nil {
		log.WithError(err).Fatal("failed to create youtube client")
	}
	defer source.Close()

	thumbs := thumbnail.New(&http.Client{Timeout: time.Minute}, objects, db, reporter, opts.DryRun)

	group, ctx := errgroup.WithContext(ctx)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	for _, channel := range cfg.Channels {
		s := scraper.New(source, db, thumbs, reporter, scraper.Options{
			Channel:           model.Channel{ID: channel.ID, Name: channel.Name},
			ExternalChannelID: channel.ChannelID,
			DryRun:            opts.DryRun,
		})

		logger := log.WithField("channel", channel.Name)

		run := func() {
			started := time.Now()

			persisted, err := s.Scrape(ctx)
			if err != nil {
				logger.WithError(err).Error("scrape failed")
				return
			}

			logger.Infof("scrape finished in %s, %d video(s) reconciled", time.Since(started), len(persisted))
		}

		if _, err := c.AddFunc(channel.Schedule, run); err != nil {
			log.WithError(err).Fatalf("can't create cron task for channel %q", channel.Name)
		}

		logger.Debugf("-> %s (%s)", channel.ChannelID, channel.Schedule)

		// Perform initial pass on start
		run()
	}

	group.Go(func() error {
		defer func() {
			log.Info("shutting down cron")
			<-c.Stop().Done()
		}()

		c.Start()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			cancel()
			return nil
		}
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.WithError(err).Error("wait error")
	}

	log.Info("gracefully stopped")
}
