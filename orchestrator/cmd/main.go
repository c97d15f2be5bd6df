package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	chainquery "github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/chain_query"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/config"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/localnet"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/rpc"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/saga"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Logger()

	rpc.SetLogger(log)
	saga.SetLogger(log)
	localnet.SetLogger(log)
	storage.SetLogger(log)
	chainquery.SetLogger(log)
}

func main() {
	configPath := flag.String("config", "./orchestrator.toml",
		"config file or go-getter source for the orchestrator daemon, empty reads WRAP_* env vars")
	logLevel := flag.String("log-level", "info", "log level (debug|info|warn|error)")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Str("config", *configPath).Msg("Starting wrap-and-send orchestrator")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg *config.Config
	if *configPath == "" {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.NewDefaultLoader().LoadSource(ctx, *configPath)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Orchestrator stopped with error")
	}
	log.Info().Msg("Orchestrator stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := storage.Open(ctx, cfg.Store.Driver, cfg.Store.Path, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing store")
		}
	}()
	log.Info().Str("driver", cfg.Store.Driver).Msg("Store opened")

	oracle, closeOracle, err := buildFeeOracle(cfg.FeeOracle)
	if err != nil {
		return err
	}
	defer closeOracle()

	chain := localnet.New(store, oracle, localnet.Config{
		ChainID:      cfg.Localnet.ChainID,
		Bech32Prefix: cfg.Localnet.Bech32Prefix,
		Channels:     cfg.Localnet.Channels,
	})
	custodyReserve, routerReserve := cfg.Localnet.Reserves()
	d, err := localnet.Bootstrap(ctx, chain, localnet.Setup{
		Saga:           cfg.Saga.Params(),
		Relayer:        cfg.Localnet.Relayer,
		SwapRate:       cfg.Localnet.SwapRate,
		CustodyReserve: custodyReserve,
		RouterReserve:  routerReserve,
	})
	if err != nil {
		return err
	}
	warnOnAddressOverride(cfg.Saga, d)

	serverConfig := buildServerConfig(cfg.Server)
	// only the REST oracle reads a live chain
	if chain, ok := oracle.(rpc.BalanceSource); ok {
		serverConfig.ChainBalances = chain
	}
	server, err := rpc.NewServer(ctx, serverConfig, d)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Received shutdown signal")

		// the parent context is already cancelled here
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildFeeOracle returns the source of the transfer module's minimum fee and
// a function releasing it.
func buildFeeOracle(cfg config.FeeOracleConfig) (localnet.FeeOracle, func(), error) {
	if cfg.Mode == config.FeeOracleREST {
		fc := chainquery.DefaultFailoverConfig()
		if cfg.MaxRetries > 0 {
			fc.MaxRetries = cfg.MaxRetries
		}
		if cfg.Timeout > 0 {
			fc.Timeout = cfg.Timeout.Std()
		}
		client, err := chainquery.NewClient(cfg.URLs, fc)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}

	fee, err := cfg.StaticFee()
	if err != nil {
		return nil, nil, err
	}
	log.Info().
		Str("ack_fee", fee.AckFee.String()).
		Str("timeout_fee", fee.TimeoutFee.String()).
		Msg("Using static relayer fee")
	return localnet.StaticFee(fee), func() {}, nil
}

// warnOnAddressOverride reports configured contract addresses that the
// local deployment replaced with its own.
func warnOnAddressOverride(s config.SagaConfig, d *localnet.Deployment) {
	if s.CustodyContract != "" && s.CustodyContract != d.CustodyAddr {
		log.Warn().
			Str("configured", s.CustodyContract).
			Str("deployed", d.CustodyAddr).
			Msg("custody_contract ignored on the local chain")
	}
	if s.SwapRouter != "" && s.SwapRouter != d.RouterAddr {
		log.Warn().
			Str("configured", s.SwapRouter).
			Str("deployed", d.RouterAddr).
			Msg("swap_router ignored on the local chain")
	}
}

// buildServerConfig converts the [server] section to rpc.ServerConfig
func buildServerConfig(cfg config.ServerConfig) *rpc.ServerConfig {
	serverConfig := &rpc.ServerConfig{
		Address:        cfg.Address(),
		AllowedOrigins: cfg.AllowedOrigins,
		EnableMetrics:  cfg.UsePrometheus,
		EnableLocalnet: cfg.EnableLocalnet,
	}

	if cfg.RatePerMinute > 0 {
		serverConfig.RatePerMinute = &cfg.RatePerMinute
	}
	if cfg.MaxConcurrentRequests > 0 {
		serverConfig.MaxConcurrentRequests = &cfg.MaxConcurrentRequests
	}

	if cfg.EnableTracing || cfg.EnableMetrics || cfg.EnableLogs || cfg.UsePrometheus {
		serverConfig.OTelConfig = &rpc.OTelConfig{
			ServiceName:     cfg.ServiceName,
			ServiceVersion:  defaultString(cfg.ServiceVersion, "0.1.0"),
			Environment:     defaultString(cfg.Environment, "development"),
			EnableTracing:   cfg.EnableTracing,
			UseOTLPTraces:   cfg.UseOTLPTraces,
			OTLPTracesURL:   cfg.OTLPTracesURL,
			EnableMetrics:   cfg.EnableMetrics || cfg.UsePrometheus,
			UsePrometheus:   cfg.UsePrometheus,
			UseOTLPMetrics:  cfg.UseOTLPMetrics,
			OTLPMetricsURL:  cfg.OTLPMetricsURL,
			EnableLogs:      cfg.EnableLogs,
			UseOTLPLogs:     cfg.UseOTLPLogs,
			OTLPLogsURL:     cfg.OTLPLogsURL,
			InsecureOTLP:    cfg.InsecureOTLP,
			DevelopmentMode: cfg.DevelopmentMode,
		}
	}

	return serverConfig
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
