package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quoteproxy/internal/breaker"
	"quoteproxy/internal/config"
	"quoteproxy/internal/httpx"
	"quoteproxy/internal/logger"
	"quoteproxy/internal/provider"
	"quoteproxy/internal/provider/finnhub"
	"quoteproxy/internal/provider/ratelimit"
	"quoteproxy/internal/quoteproxy"
	"quoteproxy/internal/server"
	"quoteproxy/internal/sweeper"
)

var (
	cfgFile  string
	logLevel string
	port     string
)

var rootCmd = &cobra.Command{
	Use:   "quoteproxy",
	Short: "Caching proxy for upstream market quotes",
	Long: `quoteproxy answers GET /quotes?symbols=A,B with cached quotes, fetching
misses from the upstream once per symbol no matter how many clients ask.

Send SIGHUP to reload the configuration and pick up a rotated token.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("CONFIG_FILE"), "config file (default config.yaml or config.json in the working directory)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&port, "port", "", "override listen port")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if port != "" {
		cfg.Server.Port = port
	}
	return cfg, nil
}

// app is the wired process state that survives a config reload.
type app struct {
	client *finnhub.Client
	proxy  *quoteproxy.Proxy
	log    zerolog.Logger
}

// build wires client, pacing, breaker and proxy from cfg. Without a token the
// proxy is disabled and every batch is answered empty.
func build(cfg config.Config, log zerolog.Logger) *app {
	a := &app{log: log}

	var upstream provider.Provider
	if err := cfg.Validate(); errors.Is(err, config.ErrMissingToken) {
		log.Warn().Msg("FINNHUB_TOKEN not set; quote proxy disabled")
	} else {
		hc := httpx.New(httpx.Options{Timeout: cfg.UpstreamTimeout(), Log: log})
		a.client = finnhub.NewClient(cfg.Upstream.Token,
			finnhub.WithHTTPClient(hc),
			finnhub.WithBaseURL(cfg.Upstream.BaseURL),
			finnhub.WithTimeout(cfg.UpstreamTimeout()),
		)
		upstream = ratelimit.Wrap(a.client,
			cfg.Upstream.MaxRequestsPerMinute,
			cfg.Upstream.Burst,
			cfg.MinRequestInterval(),
		)
	}

	a.proxy = quoteproxy.New(upstream, breaker.New(cfg.Breaker.Threshold), quoteproxy.Options{
		TTL:              cfg.CacheTTL(),
		StaleTTL:         cfg.StaleTTL(),
		FetchTimeout:     cfg.RequestTimeout(),
		SweepProbability: cfg.Cache.SweepProbability,
	}, log)
	return a
}

// reload re-reads configuration and applies a rotated token. Other settings
// need a restart.
func (a *app) reload() {
	cfg, err := loadConfig()
	if err != nil {
		a.log.Error().Err(err).Msg("Reload config")
		return
	}
	a.applyToken(cfg.Upstream.Token)
}

func (a *app) applyToken(token string) {
	if a.client == nil {
		if token != "" {
			a.log.Warn().Msg("Token configured but proxy started disabled; restart to enable")
		}
		return
	}
	if token == "" || token == a.client.Token() {
		a.log.Info().Msg("Config reloaded, token unchanged")
		return
	}
	a.client.SetToken(token)
	a.proxy.ResetBreaker()
	a.log.Info().Msg("Upstream token rotated")
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logger.SetGlobalLogger(log)

	a := build(cfg, log)

	sw, err := sweeper.New(cfg.Cache.SweepSchedule, a.proxy, log)
	if err != nil {
		return err
	}
	sw.Start()
	defer sw.Stop()

	srv := server.New(server.Config{
		Log:            log,
		Port:           cfg.Server.Port,
		Quotes:         a.proxy,
		MaxSymbols:     cfg.Server.MaxSymbols,
		CacheMaxAge:    cfg.CacheControlMaxAge(),
		RequestTimeout: cfg.RequestTimeout(),
	})

	errc := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-hup:
			a.reload()
		case err, ok := <-errc:
			if ok {
				return err
			}
			return nil
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}
