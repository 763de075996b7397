package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/gin-gonic/gin"
	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/ll2l/indexcopy/api"
	"github.com/ll2l/indexcopy/blobstore"
	"github.com/ll2l/indexcopy/bookmarks"
	"github.com/ll2l/indexcopy/client"
	"github.com/ll2l/indexcopy/transfer"
)

const version = "indexcopy v0.1.0"

func printVersion() {
	fmt.Println(version)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func initBookmarks(opts Options) error {
	dir := opts.BookmarksDir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	return bookmarks.Load(dir)
}

func initBackend(ctx context.Context, conf bookmarks.Bookmark, retry client.RetryConfig, logger *zap.Logger) (client.Backend, error) {
	b, err := client.New(conf)
	if err != nil {
		return nil, err
	}
	b = client.WithRetry(b, retry, logger)

	if err := b.Ping(ctx); err != nil {
		return nil, fmt.Errorf("service %s is not reachable: %w", conf.Service, err)
	}
	logger.Debug("service connected", zap.String("kind", conf.Kind), zap.String("service", conf.Service))
	return b, nil
}

// startServer serves the status API until ctx is done.
func startServer(ctx context.Context, opts Options, logger *zap.Logger) {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// Enable HTTP basic authentication only if both user and password are set
	if opts.AuthUser != "" && opts.AuthPass != "" {
		auth := map[string]string{opts.AuthUser: opts.AuthPass}
		router.Use(gin.BasicAuth(auth))
	}
	api.SetupRoutes(router)

	srv := &http.Server{Addr: opts.Listen, Handler: router}
	go func() {
		logger.Info("starting status server", zap.String("addr", opts.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("cannot start status server", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
}

func newPipeline(ctx context.Context, opts Options, s Settings, logger *zap.Logger) (*transfer.Pipeline, error) {
	mode, err := transfer.ParseMode(opts.Mode)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(string(mode)); err != nil {
		return nil, err
	}

	retry := client.DefaultRetryConfig()
	retry.MaxRetries = opts.MaxRetries

	p := &transfer.Pipeline{
		Logger:   logger,
		Progress: transfer.NewProgress(),
		Config: transfer.Config{
			Mode:          mode,
			SourceIndex:   s.SourceIndexName,
			TargetIndex:   s.TargetIndexName,
			PageSize:      s.PageSize,
			Parallelism:   s.Parallelism,
			SettleTimeout: s.SettleTimeout,
			PollInterval:  s.PollInterval,
			Retry:         retry,
		},
	}

	if mode != transfer.ModeRestore {
		conf, err := s.Source(opts.SourceBookmark)
		if err != nil {
			return nil, err
		}
		if err := s.CheckPageSize(conf); err != nil {
			return nil, err
		}
		if p.Source, err = initBackend(ctx, conf, retry, logger.Named("source")); err != nil {
			return nil, err
		}
	}
	if mode != transfer.ModeBackup {
		conf, err := s.Target(opts.TargetBookmark)
		if err != nil {
			return nil, err
		}
		if p.Target, err = initBackend(ctx, conf, retry, logger.Named("target")); err != nil {
			return nil, err
		}
		p.Config.TargetKind = conf.Kind
	}

	if p.Store, err = blobstore.Open(ctx, s.BlobContainerLRWDSASUri); err != nil {
		return nil, err
	}
	return p, nil
}

// Run executes the command line and returns the process exit code: 0 when the
// run succeeded, 1 on a fatal error or an incomplete copy.
func Run() int {
	opts, err := ParseOptions(os.Args[1:])
	if err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return 0
		}
		// no need to print flags errors, flags package already does that
		if !errors.As(err, &ferr) {
			fmt.Println(err.Error())
		}
		return 1
	}
	if opts.Version {
		printVersion()
		return 0
	}

	logger, err := newLogger(opts.Debug)
	if err != nil {
		fmt.Println("Error:", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := initBookmarks(opts); err != nil {
		logger.Error("cannot load bookmarks", zap.Error(err))
		return 1
	}

	settings, err := LoadSettings(opts)
	if err != nil {
		logger.Error("cannot load settings", zap.Error(err))
		return 1
	}

	p, err := newPipeline(ctx, opts, settings, logger)
	if err != nil {
		logger.Error("cannot start run", zap.Error(err))
		return 1
	}
	defer p.Store.Close()

	if opts.Listen != "" {
		api.Progress = p.Progress
		startServer(ctx, opts, logger)
	}

	report, err := p.Run(ctx)
	if err != nil || !report.Success() {
		return 1
	}
	return 0
}
