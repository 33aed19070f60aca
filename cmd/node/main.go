// Command node runs a single-sequencer FreedaPlay market node.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tolelom/freedaplay/config"
	"github.com/tolelom/freedaplay/core"
	"github.com/tolelom/freedaplay/events"
	"github.com/tolelom/freedaplay/indexer"
	"github.com/tolelom/freedaplay/rpc"
	"github.com/tolelom/freedaplay/sequencer"
	"github.com/tolelom/freedaplay/storage"
	"github.com/tolelom/freedaplay/vm"
	"github.com/tolelom/freedaplay/wallet"
	"golang.org/x/sync/errgroup"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/freedaplay/vm/modules/asset"
	_ "github.com/tolelom/freedaplay/vm/modules/economy"
	_ "github.com/tolelom/freedaplay/vm/modules/market"
)

func main() {
	cfgPath := flag.String("config", "config.toml", "path to config file")
	keyPath := flag.String("key", "", "path to keystore file (overrides keystore_path)")
	genKey := flag.Bool("genkey", false, "generate a new sequencer key and exit")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *keyPath != "" {
		cfg.KeystorePath = *keyPath
	}

	// The keystore password comes from the environment; CLI flags leak via ps.
	password := os.Getenv("FREEDA_PASSWORD")
	if password == "" {
		log.Println("WARNING: FREEDA_PASSWORD not set, keystore will use an empty password")
	}

	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(cfg.KeystorePath, password, w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key (sequencer address): %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", cfg.KeystorePath)
		return
	}

	if err := run(cfg, password); err != nil {
		log.Fatal(err)
	}
	log.Println("Shutdown complete.")
}

func run(cfg *config.Config, password string) error {
	privKey, err := wallet.LoadKey(cfg.KeystorePath, password)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	if cfg.Sequencer != "" && cfg.Sequencer != privKey.Public().Hex() {
		return fmt.Errorf("keystore %s does not hold the configured sequencer key", cfg.KeystorePath)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return err
	}
	defer db.Close()

	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}

	if bc.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(cfg, state, privKey)
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesis); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		log.Printf("Genesis block committed: %s", genesis.Hash)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	mempool := core.NewMempool()
	exec := vm.NewExecutor(state, emitter)
	seq := sequencer.New(cfg, bc, state, mempool, exec, emitter, privKey)

	// RPC reads through its own view so it never touches the sequencer's
	// write buffer.
	rpcHandler := rpc.NewHandler(bc, mempool, storage.NewStateDB(db), idx, cfg.Genesis.ChainID)
	rpcServer := rpc.NewServer(fmt.Sprintf(":%d", cfg.RPCPort), rpcHandler, cfg.RPCAuthToken)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rpcServer.Serve(gctx) })
	g.Go(func() error {
		log.Printf("Sequencer running (%s, every %s)", privKey.Public().Hex(), cfg.Interval())
		return seq.Run(gctx, cfg.Interval())
	})

	err = g.Wait()
	log.Println("Shutting down...")
	return err
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("Config file not found at %s, using defaults.", path)
		return config.Load("")
	}
	return cfg, err
}
