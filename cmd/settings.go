package cmd

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/viper"

	"github.com/ll2l/indexcopy/bookmarks"
)

const envPrefix = "INDEXCOPY"

// Settings holds the merged run configuration. Keys match the settings file.
type Settings struct {
	SourceKind              string        `mapstructure:"SourceKind"`
	SourceSearchServiceName string        `mapstructure:"SourceSearchServiceName"`
	SourceAPIKey            string        `mapstructure:"SourceAPIKey"`
	SourceIndexName         string        `mapstructure:"SourceIndexName"`
	TargetKind              string        `mapstructure:"TargetKind"`
	TargetSearchServiceName string        `mapstructure:"TargetSearchServiceName"`
	TargetAPIKey            string        `mapstructure:"TargetAPIKey"`
	TargetIndexName         string        `mapstructure:"TargetIndexName"`
	BlobContainerLRWDSASUri string        `mapstructure:"BlobContainerLRWDSASUri"`
	PageSize                int           `mapstructure:"PageSize"`
	Parallelism             int           `mapstructure:"Parallelism"`
	SettleTimeout           time.Duration `mapstructure:"SettleTimeout"`
	PollInterval            time.Duration `mapstructure:"PollInterval"`
}

var settingKeys = []string{
	"SourceKind", "SourceSearchServiceName", "SourceAPIKey", "SourceIndexName",
	"TargetKind", "TargetSearchServiceName", "TargetAPIKey", "TargetIndexName",
	"BlobContainerLRWDSASUri", "PageSize", "Parallelism", "SettleTimeout", "PollInterval",
}

var ErrInvalidSettings = errors.New("invalid settings")

// LoadSettings reads the settings file named by opts.Config, applies
// INDEXCOPY_* environment variables over it and the command-line options over
// both. A missing file is only an error when it is not the default one.
func LoadSettings(opts Options) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	for _, key := range settingKeys {
		if err := v.BindEnv(key); err != nil {
			return Settings{}, goerr.Wrap(err, "cannot bind environment", goerr.V("key", key))
		}
	}

	if opts.Config != "" {
		_, statErr := os.Stat(opts.Config)
		switch {
		case statErr == nil:
			v.SetConfigFile(opts.Config)
			if err := v.ReadInConfig(); err != nil {
				return Settings{}, goerr.Wrap(err, "cannot read settings file", goerr.V("path", opts.Config))
			}
		case os.IsNotExist(statErr) && opts.Config == defaultConfig:
		default:
			return Settings{}, goerr.Wrap(statErr, "cannot read settings file", goerr.V("path", opts.Config))
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, goerr.Wrap(err, "cannot decode settings")
	}
	s.override(opts)
	return s, nil
}

const defaultConfig = "appsettings.json"

func (s *Settings) override(opts Options) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&s.SourceKind, opts.SourceKind)
	set(&s.SourceSearchServiceName, opts.SourceService)
	set(&s.SourceAPIKey, opts.SourceAPIKey)
	set(&s.SourceIndexName, opts.SourceIndex)
	set(&s.TargetKind, opts.TargetKind)
	set(&s.TargetSearchServiceName, opts.TargetService)
	set(&s.TargetAPIKey, opts.TargetAPIKey)
	set(&s.TargetIndexName, opts.TargetIndex)
	set(&s.BlobContainerLRWDSASUri, opts.Store)

	if opts.PageSize > 0 {
		s.PageSize = opts.PageSize
	}
	if opts.Parallelism > 0 {
		s.Parallelism = opts.Parallelism
	}
	if opts.SettleTimeout > 0 {
		s.SettleTimeout = opts.SettleTimeout
	}
	if opts.PollInterval > 0 {
		s.PollInterval = opts.PollInterval
	}
}

// Validate checks the settings needed by mode.
func (s *Settings) Validate(mode string) error {
	var missing []string
	if s.SourceIndexName == "" {
		missing = append(missing, "SourceIndexName")
	}
	if s.BlobContainerLRWDSASUri == "" {
		missing = append(missing, "BlobContainerLRWDSASUri")
	}
	if len(missing) > 0 {
		return goerr.Wrap(ErrInvalidSettings, "missing settings", goerr.V("keys", strings.Join(missing, ", ")), goerr.V("mode", mode))
	}
	if s.PageSize < 0 || s.Parallelism < 0 {
		return goerr.Wrap(ErrInvalidSettings, "page size and parallelism must be positive")
	}
	return nil
}

// azureMaxTop is the largest page the Azure search endpoint returns.
const azureMaxTop = 1000

// CheckPageSize rejects a page size the source service cannot serve.
func (s *Settings) CheckPageSize(source bookmarks.Bookmark) error {
	if source.Kind == bookmarks.KindAzure && s.PageSize > azureMaxTop {
		return goerr.Wrap(ErrInvalidSettings, "page size exceeds the azure search limit",
			goerr.V("page_size", s.PageSize),
			goerr.V("max", azureMaxTop),
		)
	}
	return nil
}

// Source returns the connection of the source service, from the named
// bookmark when one is given.
func (s *Settings) Source(bookmark string) (bookmarks.Bookmark, error) {
	return service(bookmark, bookmarks.Bookmark{
		Kind:    s.SourceKind,
		Service: s.SourceSearchServiceName,
		APIKey:  s.SourceAPIKey,
	})
}

func (s *Settings) Target(bookmark string) (bookmarks.Bookmark, error) {
	return service(bookmark, bookmarks.Bookmark{
		Kind:    s.TargetKind,
		Service: s.TargetSearchServiceName,
		APIKey:  s.TargetAPIKey,
	})
}

func service(bookmark string, fallback bookmarks.Bookmark) (bookmarks.Bookmark, error) {
	b := fallback
	if bookmark != "" {
		conf, err := bookmarks.GetServiceConfig(bookmark)
		if err != nil {
			return bookmarks.Bookmark{}, goerr.Wrap(ErrInvalidSettings, err.Error())
		}
		b = conf
	}
	if err := b.Validate(); err != nil {
		return bookmarks.Bookmark{}, goerr.Wrap(ErrInvalidSettings, err.Error())
	}
	return b, nil
}
