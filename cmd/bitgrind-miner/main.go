package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitgrind"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	opts, err := parseOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing command-line arguments: %s\n", err)
		os.Exit(1)
	}

	log, logCloser, err := initLog(opts.DataDir, opts.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %s\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	printBanner()

	if err := run(opts, log); err != nil {
		log.Error().Err(err).Msg("mining session failed")
		os.Exit(1)
	}
}

func run(opts *options, log zerolog.Logger) error {
	identity, err := resolveIdentity(opts)
	if err != nil {
		return err
	}

	cfg := bitgrind.DefaultConfig()
	cfg.Identity = identity
	if opts.Threads > 0 {
		cfg.Workers = opts.Threads
	}
	cfg.TargetDifficulty = opts.Target
	strategy, err := bitgrind.ParseStrategy(opts.Strategy)
	if err != nil {
		return err
	}
	cfg.Strategy = strategy
	cfg.ProgressInterval = opts.ProgressInterval

	ledger, err := bitgrind.OpenLedger(opts.ChainFile, identity)
	if err != nil {
		return err
	}
	defer ledger.Close()

	pointer, err := ledger.Resume()
	switch {
	case errors.Is(err, bitgrind.ErrNoChain):
		if opts.StartHash == "" {
			return errors.New("chain file is empty; --start-hash is required")
		}
		pointer = bitgrind.HashPointer{PreviousHash: opts.StartHash}
	case err != nil:
		return err
	default:
		log.Info().
			Int("blocks", ledger.Blocks()).
			Int("difficulty", pointer.Difficulty).
			Str("previous", pointer.PreviousHash).
			Msg("resumed chain from disk")
	}

	submitter := bitgrind.NewHTTPSubmitter(opts.NodeURL)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	err = submitter.Ping(pingCtx)
	cancelPing()
	if err != nil {
		return errors.Wrapf(err, "cannot connect to ledger service at %s", opts.NodeURL)
	}
	log.Info().
		Str("node", opts.NodeURL).
		Str("identity", identity).
		Int("threads", cfg.Workers).
		Msg("connected to ledger service")

	registry := prometheus.NewRegistry()
	metrics := bitgrind.NewMetrics(registry)
	if opts.MetricsPort > 0 {
		serveMetrics(opts.MetricsPort, registry, log)
	}

	coord, err := bitgrind.NewCoordinator(cfg, pointer, ledger, submitter, metrics, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := coord.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	printStats(coord.Stats(), result)
	if result != nil {
		if err := writeResult(result, opts.ResultFile); err != nil {
			return err
		}
	}
	return nil
}

func serveMetrics(port int, registry *prometheus.Registry, log zerolog.Logger) {
	addr := fmt.Sprintf("localhost:%d", port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
}

func writeResult(result *bitgrind.Result, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding result record")
	}
	if path == "" {
		fmt.Println(string(data))
		return nil
	}
	return errors.Wrapf(os.WriteFile(path, append(data, '\n'), 0644), "writing result record to %s", path)
}
