package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/italolelis/fetcher/internal/checksum"
	"github.com/italolelis/fetcher/internal/cleanup"
	"github.com/italolelis/fetcher/internal/client"
	"github.com/italolelis/fetcher/internal/config"
	"github.com/italolelis/fetcher/internal/downloader"
	"github.com/italolelis/fetcher/internal/downloader/progress"
	"github.com/italolelis/fetcher/internal/http/rest"
	"github.com/italolelis/fetcher/internal/logctx"
	"github.com/italolelis/fetcher/internal/notifier"
	"github.com/italolelis/fetcher/internal/release"
	"github.com/italolelis/fetcher/internal/storage"
	"github.com/italolelis/fetcher/internal/storage/sqlite"
	"github.com/italolelis/fetcher/internal/telemetry"
	"github.com/italolelis/fetcher/internal/transfer"
)

var version = "dev"

// flags holds the per-invocation input; everything else comes from the environment.
type flags struct {
	urls   []string
	name   string
	sha256 string
	repo   string
	tag    string
	dir    string
}

func parseFlags(args []string) (flags, error) {
	var f flags

	fs := flag.NewFlagSet("fetcher", flag.ContinueOnError)
	fs.StringVar(&f.name, "name", "", "file name override (single URL only)")
	fs.StringVar(&f.sha256, "sha256", "", "expected sha256 digest (single URL only)")
	fs.StringVar(&f.repo, "repo", "", "fetch the assets of a GitHub release, owner/name")
	fs.StringVar(&f.tag, "tag", "", "release tag, latest when empty")
	fs.StringVar(&f.dir, "dir", "", "destination directory, overrides TARGET_DIR")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: fetcher [flags] URL...\n       fetcher [flags] -repo owner/name [-tag TAG]\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return f, err
	}

	f.urls = fs.Args()

	switch {
	case f.repo == "" && len(f.urls) == 0:
		fs.Usage()

		return f, errors.New("no URL or repository given")
	case f.repo != "" && len(f.urls) > 0:
		return f, errors.New("URLs and -repo are mutually exclusive")
	}

	return f, nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	in, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}

		slog.Error("invalid arguments", "err", err)
		os.Exit(2)
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewTraceHandler(handler))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("fetcher starting", "version", version, "log_level", cfg.LogLevel)

	ok, err := run(logctx.WithLogger(ctx, logger), cfg, in, os.Stdout)
	if err != nil {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}

	if !ok {
		os.Exit(1)
	}
}

// run executes one batch and reports whether every transfer succeeded.
func run(ctx context.Context, cfg *config.Config, in flags, out io.Writer) (bool, error) {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "fetcher",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return false, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Journal
	var repo storage.TransferRepository

	if cfg.DBPath != "" {
		database, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			return false, fmt.Errorf("failed to open journal: %w", err)
		}
		defer database.Close()

		repo = sqlite.NewInstrumentedTransferRepository(database, tel)

		removed, err := cleanup.DeleteStaleStaging(ctx, repo, cfg.KeepStagingFor)
		if err != nil {
			logger.Error("failed to delete stale staging files", "err", err)
		} else if removed > 0 {
			logger.Info("stale staging files removed", "count", removed)
		}
	}

	// =========================================================================
	// Start Status Server
	if cfg.Web.BindAddress != "" {
		server := setupServer(ctx, cfg, tel, repo)

		go func() {
			logger.Info("initializing status server", "host", cfg.Web.BindAddress)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", "err", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)
				_ = server.Close()
			}
		}()
	}

	// =========================================================================
	// Start Downloader
	dl, err := buildDownloader(ctx, cfg, tel, repo)
	if err != nil {
		return false, err
	}

	dir := cfg.TargetDir
	if in.dir != "" {
		dir = in.dir
	}

	newRequest := func(url string) transfer.Request {
		req := transfer.NewRequest(url, dir)
		req.Resume = cfg.Resume
		req.Overwrite = cfg.Overwrite
		req.ChunkSize = int(cfg.ChunkSize.Bytes())
		req.Timeout = cfg.Timeout

		return req
	}

	var batch downloader.BatchResult

	if in.repo != "" {
		hc, err := client.Build(client.WithUserAgent(cfg.UserAgent))
		if err != nil {
			return false, fmt.Errorf("failed to build api client: %w", err)
		}

		token := cfg.GithubToken
		if token == "" {
			token = os.Getenv("GH_TOKEN")
		}

		fetcher := release.NewFetcher(release.NewClient(ctx, hc, token), dl, newRequest)

		batch, err = fetcher.Fetch(ctx, in.repo, in.tag)
		if err != nil {
			return false, err
		}
	} else {
		reqs, err := buildRequests(ctx, in, newRequest)
		if err != nil {
			return false, err
		}

		batch = dl.Run(ctx, reqs)
	}

	report(out, batch)
	notify(ctx, cfg, batch)

	return batch.OK(), nil
}

func buildDownloader(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, repo storage.TransferRepository) (*downloader.Downloader, error) {
	opts := []client.Option{client.WithUserAgent(cfg.UserAgent)}

	if cfg.Telemetry.Enabled {
		opts = append(opts, client.WithInstrumentation())
	}

	if cfg.RateLimit > 0 {
		opts = append(opts, client.WithThrottle(cfg.RateLimit, cfg.RateBurst))
	}

	hc, err := client.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build http client: %w", err)
	}

	exec := transfer.NewExecutor(hc, progress.NewLogger(logctx.LoggerFromContext(ctx), progress.DefaultInterval))

	runner := downloader.NewRunner(
		transfer.NewInstrumentedExecutor(exec, tel),
		downloader.WithAttempts(cfg.Attempts),
		downloader.WithBackoff(time.Second, cfg.BackoffCap),
		downloader.WithTerminalStatus(cfg.TerminalStatus...),
	)

	dl := downloader.NewDownloader(runner, cfg.MaxParallel, tel)

	if repo != nil {
		dl.OnResult(func(ctx context.Context, runID string, res transfer.Result) {
			// The journal must see results of an interrupted batch too.
			ctx = context.WithoutCancel(ctx)

			if err := repo.RecordResult(ctx, storage.NewTransferRecord(runID, res, time.Now())); err != nil {
				logctx.LoggerFromContext(ctx).Error("failed to record transfer", "url", res.Request.URL, "err", err)
			}
		})
	}

	return dl, nil
}

// buildRequests turns positional URLs into requests. The name override and
// the digest only make sense for a single URL and are ignored otherwise.
func buildRequests(ctx context.Context, in flags, newRequest release.RequestFactory) ([]transfer.Request, error) {
	logger := logctx.LoggerFromContext(ctx)

	reqs := make([]transfer.Request, 0, len(in.urls))
	for _, u := range in.urls {
		reqs = append(reqs, newRequest(u))
	}

	if len(reqs) > 1 {
		if in.name != "" || in.sha256 != "" {
			logger.Warn("-name and -sha256 are ignored when more than one URL is given")
		}

		return reqs, nil
	}

	reqs[0].Name = in.name

	if in.sha256 != "" {
		digest, err := checksum.Normalize(in.sha256)
		if err != nil {
			return nil, err
		}

		reqs[0].Digest = digest
	}

	return reqs, nil
}

func setupServer(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, repo storage.TransferRepository) *http.Server {
	var journal storage.TransferReadRepository
	if repo != nil {
		journal = repo
	}

	return rest.NewServer(ctx, rest.ServerConfig{
		BindAddress:  cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
	}, rest.NewRouter(tel, journal))
}

func report(out io.Writer, batch downloader.BatchResult) {
	for _, res := range batch.Succeeded {
		fmt.Fprintf(out, "OK     %s\n", res.Path)
	}

	for _, res := range batch.Failed {
		fmt.Fprintf(out, "FAILED %s [%s] %s: %v\n", res.Request.ID, res.Kind, res.Request.URL, res.Err)
	}

	fmt.Fprintf(out, "%d succeeded, %d failed\n", len(batch.Succeeded), len(batch.Failed))
}

func notify(ctx context.Context, cfg *config.Config, batch downloader.BatchResult) {
	if cfg.DiscordWebhookURL == "" {
		return
	}

	n := &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := n.Notify(ctx, notifier.BatchSummary(batch)); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send notification", "err", err)
	}
}
