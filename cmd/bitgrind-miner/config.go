package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bitgrind"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	defaultChainFilename = "chain.dat"
	defaultLogFilename   = "bitgrind.log"
)

// options is the full CLI surface. Everything here is an input to the
// coordinator's construction, not core behavior.
type options struct {
	Identity  string `short:"i" long:"identity" description:"Miner identity string"`
	WalletDir string `long:"wallet" description:"Directory holding an 'address' file; used when --identity is omitted"`

	StartHash string `long:"start-hash" description:"Starting previous-hash (64 hex chars); required when the chain file is empty"`
	ChainFile string `long:"chain-file" description:"Append-only chain file (default: <datadir>/chain.dat)"`
	DataDir   string `long:"datadir" description:"Data directory (default: ~/.bitgrind)"`

	Threads  int    `short:"t" long:"threads" description:"Number of mining threads (default: number of CPUs)"`
	Target   int    `short:"d" long:"target" default:"32" description:"Difficulty ceiling in leading zero bits; the session ends when reached"`
	Strategy string `long:"strategy" default:"sequential" choice:"sequential" choice:"random" choice:"numeric" description:"Nonce strategy"`

	NodeURL          string        `short:"s" long:"node" default:"http://localhost:8001" description:"Ledger service URL"`
	ProgressInterval time.Duration `long:"progress-interval" default:"5s" description:"How often each thread reports throughput"`
	MetricsPort      int           `long:"metrics-port" description:"Serve Prometheus metrics on localhost:PORT (disabled when 0)"`
	ResultFile       string        `long:"result-file" description:"Write the final result record here instead of stdout"`

	Verbose     bool `short:"v" long:"verbose" description:"Enable debug logging"`
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`
}

func parseOptions() (*options, error) {
	opts := &options{}
	parser := flags.NewParser(opts, flags.PrintErrors|flags.HelpFlag)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if opts.ShowVersion {
		fmt.Println(bitgrind.AppName, "version", bitgrind.Version)
		os.Exit(0)
	}

	if opts.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "resolving home directory")
		}
		opts.DataDir = filepath.Join(home, ".bitgrind")
	}
	if opts.ChainFile == "" {
		opts.ChainFile = filepath.Join(opts.DataDir, defaultChainFilename)
	}
	opts.NodeURL = strings.TrimRight(opts.NodeURL, "/")

	if opts.StartHash != "" && !bitgrind.IsHexHash(opts.StartHash) {
		return nil, errors.New("--start-hash must be 64 lowercase hex characters")
	}
	if opts.MetricsPort != 0 && (opts.MetricsPort < 1024 || opts.MetricsPort > 65535) {
		return nil, errors.New("--metrics-port must be between 1024 and 65535")
	}

	return opts, nil
}

// resolveIdentity picks the miner identity from --identity, --wallet, or
// the default wallet location, in that order.
func resolveIdentity(opts *options) (string, error) {
	if opts.Identity != "" {
		return opts.Identity, nil
	}
	if opts.WalletDir != "" {
		return loadWalletAddress(opts.WalletDir)
	}
	identity, err := loadWalletAddress(filepath.Join(opts.DataDir, "wallet"))
	if err != nil {
		return "", errors.New("no identity specified; provide --identity or --wallet")
	}
	return identity, nil
}

func loadWalletAddress(walletDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(walletDir, "address"))
	if err != nil {
		return "", errors.Wrapf(err, "reading wallet address from %s", walletDir)
	}
	identity := strings.TrimSpace(string(data))
	if identity == "" {
		return "", errors.Errorf("wallet address file in %s is empty", walletDir)
	}
	return identity, nil
}
