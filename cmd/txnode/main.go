// Command txnode runs the transaction-ledger node: an ABCI application
// served over a socket for a CometBFT consensus engine to drive.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	abciserver "github.com/cometbft/cometbft/abci/server"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/mr-tron/base58"

	"github.com/txledger/node/pkg/config"
	"github.com/txledger/node/pkg/consensus"
	"github.com/txledger/node/pkg/database"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		configFile  = flag.String("config", "", "Path to an optional YAML config file")
		validatorID = flag.String("validator-id", "", "Validator ID (overrides VALIDATOR_ID env var)")
		showHelp    = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.LoadFromFile(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *validatorID != "" {
		cfg.ValidatorID = *validatorID
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log.Printf("starting txnode validator=%s chain=%s", cfg.ValidatorID, cfg.ChainID)

	nodeKey, err := loadOrGenerateEd25519Key(cfg)
	if err != nil {
		log.Fatalf("failed to load node key: %v", err)
	}
	log.Printf("node public key: %s", base58.Encode(nodeKey.Public().(ed25519.PublicKey)))

	dbClient, err := database.NewClient(cfg, database.WithLogger(
		log.New(log.Writer(), "[database] ", log.LstdFlags),
	))
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbClient.Close()

	if err := dbClient.MigrateUp(context.Background()); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	app := consensus.NewApp(dbClient, cfg.ChainID)

	srv, err := abciserver.NewServer(cfg.ListenAddr, "socket", app)
	if err != nil {
		log.Fatalf("failed to create ABCI server: %v", err)
	}
	srv.SetLogger(cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout)))

	if err := srv.Start(); err != nil {
		log.Fatalf("failed to start ABCI server: %v", err)
	}
	defer srv.Stop()

	log.Printf("ABCI server listening on %s", cfg.ListenAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
}

func printHelp() {
	log.Println("txnode - transaction ledger ABCI node")
	flag.PrintDefaults()
}

// loadOrGenerateEd25519Key loads this node's identity key from
// cfg.Ed25519KeyPath (defaulting under cfg.DataDir), generating and
// persisting a fresh one on first run.
func loadOrGenerateEd25519Key(cfg *config.Config) (ed25519.PrivateKey, error) {
	keyPath := cfg.Ed25519KeyPath
	if keyPath == "" {
		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = "./data"
		}
		keyPath = filepath.Join(dataDir, "ed25519_key.hex")
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		_, privateKey, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(privateKey)), 0600); err != nil {
			return nil, fmt.Errorf("save ed25519 key to %s: %w", keyPath, err)
		}
		log.Printf("generated new ed25519 key at %s", keyPath)
		return privateKey, nil
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ed25519 key from %s: %w", keyPath, err)
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode ed25519 key from %s: %w", keyPath, err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 key size in %s: expected %d, got %d", keyPath, ed25519.PrivateKeySize, len(keyBytes))
	}
	return ed25519.PrivateKey(keyBytes), nil
}
