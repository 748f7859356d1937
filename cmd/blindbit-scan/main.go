// Command blindbit-scan is the CLI entrypoint (C13) wiring the engine's
// components together: wallet setup, one-shot range scans, continuous
// watching, and an optional read-only status server.
//
// Grounded on the teacher's cmd/blindbit-desktop/main.go (pflag-bound
// -debug/-datadir flags parsed in init(), logging level set from them)
// generalized from a single GUI entrypoint into a subcommand dispatcher,
// since this engine has no GUI to drive it.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/setavenger/blindbit-scan-engine/internal/chainsource"
	"github.com/setavenger/blindbit-scan-engine/internal/config"
	"github.com/setavenger/blindbit-scan-engine/internal/keyderivation"
	"github.com/setavenger/blindbit-scan-engine/internal/logging"
	"github.com/setavenger/blindbit-scan-engine/internal/progresssink"
	"github.com/setavenger/blindbit-scan-engine/internal/scanner"
	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
	"github.com/setavenger/blindbit-scan-engine/internal/statusapi"
	"github.com/setavenger/blindbit-scan-engine/internal/walletsetup"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	fs := pflag.NewFlagSet(cmd, pflag.ExitOnError)
	flags := config.RegisterFlags(fs)
	labelCount := fs.Uint32("label-count", 0, "number of receiving labels to derive (init-wallet only)")
	labelIndex := fs.Uint32("label", 0, "label index to derive an address for (address only)")
	start := fs.Uint32("start", 0, "first height to scan, inclusive (scan only)")
	end := fs.Uint32("end", 0, "last height to scan, inclusive (scan only)")
	serve := fs.Bool("serve", false, "also run the read-only status API (watch only)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if flags.Debug {
		logging.SetLogLevel(zerolog.DebugLevel)
	} else {
		logging.SetLogLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load(flags.DataDir, flags)
	if err != nil {
		logging.L.Fatal().Err(err).Msg("failed to load config")
	}

	var runErr error
	switch cmd {
	case "init-wallet":
		runErr = runInitWallet(cfg, *labelCount)
	case "address":
		runErr = runAddress(cfg, *labelIndex)
	case "scan":
		runErr = runScan(cfg, *start, *end)
	case "watch":
		runErr = runWatch(cfg, *serve)
	default:
		usage()
		os.Exit(1)
	}

	if runErr != nil {
		logging.L.Fatal().Err(runErr).Msg("blindbit-scan: command failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: blindbit-scan <init-wallet|address|scan|watch> [flags]")
}

func runInitWallet(cfg *config.Config, labelCount uint32) error {
	mnemonic, err := walletsetup.GenerateMnemonic()
	if err != nil {
		return err
	}
	wallet, err := walletsetup.NewWallet(mnemonic, "", cfg.Network, labelCount)
	if err != nil {
		return err
	}
	if err := wallet.SaveToFile(cfg.DataDir); err != nil {
		return err
	}
	address, err := wallet.Address(0)
	if err != nil {
		return err
	}
	fmt.Printf("mnemonic: %s\n", mnemonic)
	fmt.Printf("address:  %s\n", address)
	return nil
}

func runAddress(cfg *config.Config, labelIndex uint32) error {
	wallet, err := walletsetup.LoadFromFile(cfg.DataDir)
	if err != nil {
		return err
	}
	address, err := wallet.Address(labelIndex)
	if err != nil {
		return err
	}
	fmt.Println(address)
	return nil
}

func runScan(cfg *config.Config, start, end uint32) error {
	if end < start {
		return fmt.Errorf("blindbit-scan: --end must be >= --start")
	}

	s, sink, cleanup, err := buildScanner(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	return s.ScanBlocks(context.Background(), start, end, scanner.ScanOptions{
		DustLimit:      dustLimitPtr(cfg),
		WithCutThrough: cfg.WithCutThrough,
		Parallelism:    cfg.ConcurrentFilterRequests,
		InitialOwned:   loadInitialOwned(sink),
	})
}

func runWatch(cfg *config.Config, serve bool) error {
	s, sink, cleanup, err := buildScanner(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	birthHeight := cfg.BirthHeight
	w := scanner.NewWatcher(s, birthHeight)

	if serve {
		router := statusapi.NewRouter(
			cursorFuncFor(sink),
			ownedCountFuncFor(sink),
			w.IsRunning,
		)
		go func() {
			if err := router.Run(cfg.StatusAPIAddr); err != nil {
				logging.L.Error().Err(err).Msg("blindbit-scan: status API exited")
			}
		}()
	}

	if err := w.Start(context.Background(), scanner.ScanOptions{
		DustLimit:      dustLimitPtr(cfg),
		WithCutThrough: cfg.WithCutThrough,
		Parallelism:    cfg.ConcurrentFilterRequests,
		InitialOwned:   loadInitialOwned(sink),
	}); err != nil {
		return err
	}

	select {}
}

// buildScanner wires ChainSource, ProgressSink, Deriver, and Scanner from
// cfg and the wallet persisted under cfg.DataDir.
func buildScanner(cfg *config.Config) (*scanner.Scanner, progresssink.Sink, func(), error) {
	wallet, err := walletsetup.LoadFromFile(cfg.DataDir)
	if err != nil {
		return nil, nil, nil, err
	}

	src := chainsource.NewHTTPClient(cfg.IndexerURL)

	var sink progresssink.Sink
	var cleanup func()
	if cfg.PostgresDSN != "" {
		runID := uuid.New().String()
		pg, err := progresssink.NewPostgresSink(context.Background(), cfg.PostgresDSN, runID)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := pg.InitSchema(context.Background()); err != nil {
			return nil, nil, nil, err
		}
		sink = pg
		cleanup = pg.Close
	} else {
		fileSink, err := progresssink.NewFileSink(cfg.DataDir)
		if err != nil {
			return nil, nil, nil, err
		}
		sink = fileSink
		cleanup = func() {}
	}

	deriver := keyderivation.NewDeriver(wallet.ScanSecret, wallet.SpendPub, wallet.Labels)

	s := scanner.New(src, sink, deriver, &logging.L)
	return s, sink, cleanup, nil
}

func dustLimitPtr(cfg *config.Config) *uint64 {
	if cfg.DustLimit == 0 {
		return nil
	}
	d := cfg.DustLimit
	return &d
}

// loadInitialOwned seeds a resumed Scanner's OwnedSet from what the sink
// already holds. For the file sink that is every unspent output in the
// progress file, so a restart keeps outputs owned from earlier runs. The
// Postgres sink is keyed by a run id minted fresh in buildScanner, so it
// yields only outputs recorded by the current process; outputs from
// earlier runs are not loaded.
func loadInitialOwned(sink progresssink.Sink) []scantypes.OutPoint {
	var (
		ops []scantypes.OutPoint
		err error
	)
	switch s := sink.(type) {
	case *progresssink.FileSink:
		ops, err = s.OwnedOutpoints()
	case *progresssink.PostgresSink:
		ops, err = s.OwnedOutpoints()
	}
	if err != nil {
		logging.L.Warn().Err(err).Msg("blindbit-scan: failed to load prior owned outpoints, starting with an empty OwnedSet")
		return nil
	}
	return ops
}

func cursorFuncFor(sink progresssink.Sink) statusapi.CursorFunc {
	switch s := sink.(type) {
	case *progresssink.FileSink:
		return func() (scantypes.ScanCursor, error) { return s.Cursor(), nil }
	case *progresssink.PostgresSink:
		return s.Cursor
	default:
		return nil
	}
}

func ownedCountFuncFor(sink progresssink.Sink) statusapi.OwnedCountFunc {
	switch s := sink.(type) {
	case *progresssink.FileSink:
		return func() (int, error) { return s.OwnedCount(), nil }
	case *progresssink.PostgresSink:
		return s.OwnedCount
	default:
		return nil
	}
}
