package cmd

import (
	"time"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Version bool   `short:"v" long:"version" description:"Print version"`
	Debug   bool   `short:"d" long:"debug" description:"Enable debug logging"`
	Config  string `short:"c" long:"config" description:"Settings file (json, yaml or toml)" default:"appsettings.json"`
	Mode    string `short:"m" long:"mode" description:"What to run" choice:"copy" choice:"backup" choice:"restore" default:"copy"`

	SourceKind     string `long:"source-kind" description:"Source service kind (azure or elasticsearch)"`
	SourceService  string `long:"source-service" description:"Source search service name or URL"`
	SourceAPIKey   string `long:"source-api-key" description:"Source admin API key"`
	SourceIndex    string `long:"source-index" description:"Source index name"`
	SourceBookmark string `long:"source-bookmark" description:"Bookmark to use for the source service"`

	TargetKind     string `long:"target-kind" description:"Target service kind (azure or elasticsearch)"`
	TargetService  string `long:"target-service" description:"Target search service name or URL"`
	TargetAPIKey   string `long:"target-api-key" description:"Target admin API key"`
	TargetIndex    string `long:"target-index" description:"Target index name, defaults to the source index"`
	TargetBookmark string `long:"target-bookmark" description:"Bookmark to use for the target service"`

	BookmarksDir string `long:"bookmarks-dir" description:"Directory of the bookmark file, defaults to the working directory"`
	Store        string `long:"store" description:"Blob store: Azure container SAS URL, gs://bucket/prefix, a directory or mem://"`

	PageSize      int           `long:"page-size" description:"Documents per batch file"`
	Parallelism   int           `long:"parallelism" description:"Concurrent export batches"`
	SettleTimeout time.Duration `long:"settle-timeout" description:"How long to wait for index deletion and indexing"`
	PollInterval  time.Duration `long:"poll-interval" description:"Interval between index status checks"`
	MaxRetries    int           `long:"max-retries" description:"Retries of a failed service call" default:"3"`

	Listen   string `long:"listen" description:"Serve the run status API on host:port"`
	AuthUser string `long:"auth-user" description:"HTTP basic auth user" env:"AUTH_USER"`
	AuthPass string `long:"auth-pass" description:"HTTP basic auth password" env:"AUTH_PASS"`
}

// ParseOptions returns a new options struct from the input arguments
func ParseOptions(args []string) (Options, error) {
	var opts = Options{}

	_, err := flags.ParseArgs(&opts, args)
	if err != nil {
		return opts, err
	}
	return opts, nil
}
