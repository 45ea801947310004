package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/chaumfed/fedwallet/internal/api"
	"github.com/chaumfed/fedwallet/internal/broadcaster"
	"github.com/chaumfed/fedwallet/internal/config"
	"github.com/chaumfed/fedwallet/internal/frost"
	"github.com/chaumfed/fedwallet/internal/kvstore"
	"github.com/chaumfed/fedwallet/internal/logging"
	"github.com/chaumfed/fedwallet/internal/models"
	"github.com/chaumfed/fedwallet/internal/pegin"
	"github.com/chaumfed/fedwallet/internal/rpc"
	"github.com/chaumfed/fedwallet/internal/wallet"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	case "init":
		if err := runInit(); err != nil {
			slog.Error("init error", "error", err)
			os.Exit(1)
		}
	case "audit":
		if err := runAudit(); err != nil {
			slog.Error("audit error", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("fedwallet %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: fedwallet <command>

Commands:
  serve     Start the federation peer's consensus driver and HTTP API
  init      Run trusted-dealer FROST key generation from a mnemonic
  audit     Print the module's current solvency statement and exit
  version   Print version information
`)
}

// keyMaterial is the FROST group parameters and this peer's own secret
// share, assembled once at startup from either a mnemonic-derived
// trusted-dealer ceremony or fresh randomness (demo/bring-up only).
type keyMaterial struct {
	self               models.PeerID
	aggregatePub       *btcec.PublicKey
	verificationShares map[models.PeerID]*btcec.PublicKey
	secretShare        *btcec.ModNScalar
	threshold          int
}

func loadKeyMaterial(cfg *config.Config) (*keyMaterial, error) {
	self := models.PeerID(cfg.PeerID)
	threshold := int(cfg.Threshold)
	numPeers := int(cfg.NumPeers)

	var keygen *frost.KeyGenResult
	if cfg.MnemonicFile != "" {
		mnemonic, err := wallet.ReadMnemonicFromFile(cfg.MnemonicFile)
		if err != nil {
			return nil, fmt.Errorf("read mnemonic: %w", err)
		}
		keygen, err = frost.GenerateFromMnemonic(mnemonic, threshold, numPeers)
		if err != nil {
			return nil, fmt.Errorf("generate frost key material from mnemonic: %w", err)
		}
	} else {
		slog.Warn("no mnemonic file configured, generating ephemeral frost key material -- this peer's key share will not survive a restart")
		var err error
		keygen, err = frost.GenerateTrustedDealer(threshold, numPeers)
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral frost key material: %w", err)
		}
	}

	secretShare, ok := keygen.SecretShares[self]
	if !ok {
		return nil, fmt.Errorf("frost key generation produced no share for peer %d", self)
	}

	return &keyMaterial{
		self:               self,
		aggregatePub:       keygen.GroupPublicKey,
		verificationShares: keygen.VerificationShares,
		secretShare:        secretShare,
		threshold:          threshold,
	}, nil
}

func openWallet(cfg *config.Config) (*wallet.Wallet, *kvstore.Store, *rpc.Client, error) {
	store, err := kvstore.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open kv store: %w", err)
	}

	keys, err := loadKeyMaterial(cfg)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}

	bitcoindRPC := rpc.New(cfg.BitcoindRPCURLs, cfg.BitcoindRPCUser, cfg.BitcoindRPCPass)

	w := wallet.New(cfg, store, bitcoindRPC, pegin.InsecureAcceptAllVerifier{}, keys.aggregatePub,
		keys.verificationShares, keys.threshold, keys.self, keys.secretShare)

	return w, store, bitcoindRPC, nil
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting fedwallet",
		"version", version,
		"network", cfg.Network,
		"peerID", cfg.PeerID,
		"numPeers", cfg.NumPeers,
		"threshold", cfg.Threshold,
		"port", cfg.Port,
		"dbPath", cfg.DBPath,
		"logLevel", cfg.LogLevel,
	)

	w, store, bitcoindRPC, err := openWallet(cfg)
	if err != nil {
		return fmt.Errorf("failed to open wallet: %w", err)
	}
	defer store.Close()

	bc := broadcaster.New(store, bitcoindRPC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go bc.Run(ctx)
	go runSoloConsensusDriver(ctx, w, cfg.RoundInterval)

	router := api.NewRouter(w, cfg)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    config.ServerReadTimeout,
		WriteTimeout:   config.ServerWriteTimeout,
		IdleTimeout:    config.ServerIdleTimeout,
		MaxHeaderBytes: config.ServerMaxHeaderBytes,
	}

	slog.Info("server configured",
		"readTimeout", config.ServerReadTimeout,
		"writeTimeout", config.ServerWriteTimeout,
		"idleTimeout", config.ServerIdleTimeout,
		"maxHeaderBytes", config.ServerMaxHeaderBytes,
	)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("initiating graceful shutdown", "timeout", config.ShutdownTimeout)

	cancel()
	slog.Info("consensus driver and broadcaster contexts cancelled")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// runSoloConsensusDriver runs the module's own consensus-epoch loop for a
// single-peer (or otherwise externally un-federated) deployment: it calls
// the same AwaitConsensusProposal/BeginConsensusEpoch/EndConsensusEpoch
// sequence a real BFT transport layer would drive, treating this peer's
// own proposal as the full agreed item set. A federation with more than
// one peer replaces this driver with a real BFT transport feeding
// BeginConsensusEpoch every peer's proposal.
func runSoloConsensusDriver(ctx context.Context, w *wallet.Wallet, interval time.Duration) {
	var consensusPeers = []models.PeerID{models.PeerID(1)}

	for {
		proposal, err := w.AwaitConsensusProposal(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("consensus driver stopping")
				return
			}
			slog.Error("consensus driver: await proposal failed", "error", err)
			time.Sleep(interval)
			continue
		}

		items := make([]wallet.PeerConsensusItem, len(proposal))
		for i, item := range proposal {
			items[i] = wallet.PeerConsensusItem{Peer: consensusPeers[0], Item: item}
		}

		dropped, err := w.RunEpoch(ctx, items, consensusPeers)
		if err != nil {
			slog.Error("consensus driver: epoch failed", "error", err)
		} else if len(dropped) > 0 {
			slog.Warn("consensus epoch observed misbehaving peers", "peers", dropped)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func runInit() error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	mnemonicFile := fs.String("mnemonic-file", "", "Path to file containing 24-word BIP-39 mnemonic (required)")
	threshold := fs.Int("threshold", 0, "Signing threshold (default: from FEDWALLET_THRESHOLD)")
	numPeers := fs.Int("peers", 0, "Number of federation peers (default: from FEDWALLET_NUM_PEERS)")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	if *mnemonicFile != "" {
		cfg.MnemonicFile = *mnemonicFile
	}
	if cfg.MnemonicFile == "" {
		return fmt.Errorf("--mnemonic-file is required (or set FEDWALLET_MNEMONIC_FILE)")
	}

	t := int(cfg.Threshold)
	if *threshold != 0 {
		t = *threshold
	}
	n := int(cfg.NumPeers)
	if *numPeers != 0 {
		n = *numPeers
	}

	slog.Info("starting frost key generation ceremony",
		"mnemonicFile", cfg.MnemonicFile,
		"threshold", t,
		"numPeers", n,
	)

	mnemonic, err := wallet.ReadMnemonicFromFile(cfg.MnemonicFile)
	if err != nil {
		return fmt.Errorf("read mnemonic: %w", err)
	}

	keygen, err := frost.GenerateFromMnemonic(mnemonic, t, n)
	if err != nil {
		return fmt.Errorf("generate frost key material: %w", err)
	}

	slog.Info("frost key generation complete",
		"groupPublicKey", fmt.Sprintf("%x", keygen.GroupPublicKey.SerializeCompressed()),
		"threshold", keygen.Threshold,
		"numPeers", keygen.NumPeers,
	)
	for peer, share := range keygen.VerificationShares {
		slog.Info("peer verification share", "peer", peer, "share", fmt.Sprintf("%x", share.SerializeCompressed()))
	}

	return nil
}

func runAudit() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	w, store, _, err := openWallet(cfg)
	if err != nil {
		return fmt.Errorf("failed to open wallet: %w", err)
	}
	defer store.Close()

	report, err := w.Audit()
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	fmt.Printf("assets:      %d msat\n", report.AssetsMsat)
	fmt.Printf("liabilities: %d msat\n", report.LiabilitiesMsat)
	fmt.Printf("net:         %d msat\n", report.NetMsat)
	return nil
}
