package config

import (
	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/chansync/chansync/pkg/fs"
)

// Channel is one ingestion target.
type Channel struct {
	// ID of the saved channel row the videos are attached to
	ID int64 `toml:"id"`
	// Name used in logs
	Name string `toml:"name"`
	// ChannelID is the platform's channel identifier
	ChannelID string `toml:"channel_id"`
	// Schedule is a cron expression controlling how often the channel is scraped.
	// NOTE: too frequent scrapes might drain your API quota.
	Schedule string `toml:"schedule"`
}

type Database struct {
	// URL is a Postgres connection string
	URL string `toml:"url"`
}

type Tokens struct {
	// YouTube API key.
	// See https://developers.google.com/youtube/registering_an_application
	YouTube string `toml:"youtube"`
}

type Sentry struct {
	// DSN of the error tracking project. Empty disables remote capture.
	DSN string `toml:"dsn"`
}

type Config struct {
	Database Database    `toml:"database"`
	Storage  fs.S3Config `toml:"storage"`
	Tokens   Tokens      `toml:"tokens"`
	Sentry   Sentry      `toml:"sentry"`
	Channels []Channel   `toml:"channels"`
}

// LoadConfig loads TOML configuration from a file path
func LoadConfig(path string) (*Config, error) {
	config := Config{}
	_, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config file")
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Channels {
		if c.Channels[i].Schedule == "" {
			c.Channels[i].Schedule = "@every 15m"
		}
	}
}

func (c *Config) validate() error {
	var result *multierror.Error

	if c.Database.URL == "" {
		result = multierror.Append(result, errors.New("database URL is required"))
	}

	if c.Tokens.YouTube == "" {
		result = multierror.Append(result, errors.New("YouTube API token is required"))
	}

	if c.Storage.Bucket == "" {
		result = multierror.Append(result, errors.New("storage bucket is required"))
	}

	if len(c.Channels) == 0 {
		result = multierror.Append(result, errors.New("at least one channel must be specified"))
	}

	for _, channel := range c.Channels {
		if channel.ID == 0 {
			result = multierror.Append(result, errors.Errorf("channel ID is required for %q", channel.Name))
		}
		if channel.ChannelID == "" {
			result = multierror.Append(result, errors.Errorf("external channel ID is required for %q", channel.Name))
		}
	}

	return result.ErrorOrNil()
}
