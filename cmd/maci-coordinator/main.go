package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/maci-coordinator/coordinator"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
	"github.com/vocdoni/maci-coordinator/db/metadb"
	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/state"
	"github.com/vocdoni/maci-coordinator/storage"
	"github.com/vocdoni/maci-coordinator/types"
)

func main() {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting maci-coordinator", "version", Version)

	// Validate configuration
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	priv, err := keys.DeserializePrivKey(cfg.Coordinator.PrivKey)
	if err != nil {
		log.Fatalf("Invalid coordinator private key: %v", err)
	}

	// Initialize storage database
	log.Infow("initializing storage", "datadir", cfg.Datadir, "type", cfg.DB.Type)
	storagedb, err := metadb.New(cfg.DB.Type, cfg.Datadir)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	stg := storage.New(storagedb)
	defer stg.Close()

	registry, err := stg.LoadRegistry(cfg.Snapshot)
	if err != nil {
		log.Fatalf("Failed to load registry %q: %v", cfg.Snapshot, err)
	}
	log.Infow("registry loaded",
		"snapshot", cfg.Snapshot,
		"signups", registry.NumSignUps(),
		"polls", len(registry.Polls()))

	ids, err := installCoordinatorKey(registry, priv, cfg.Polls)
	if err != nil {
		log.Fatalf("Failed to install coordinator key: %v", err)
	}

	coord := coordinator.New(registry, stg, nil, coordinator.Options{
		Snapshot:     cfg.Snapshot,
		MaciAddress:  common.HexToAddress(cfg.Deploy.Maci),
		TallyAddress: common.HexToAddress(cfg.Deploy.Tally),
		Network:      cfg.Deploy.Network,
		ChainID:      cfg.Deploy.ChainID,
		Workers:      cfg.Workers,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Monitor > 0 {
		log.Infow("monitoring polls", "interval", cfg.Monitor.String())
		coord.Start(ctx, cfg.Monitor)
		for _, id := range ids {
			select {
			case coord.OndemandCh <- id:
			case <-ctx.Done():
			}
		}
		<-ctx.Done()
		log.Info("received signal, shutting down")
		coord.Close()
		if err := writeStoredTallies(stg, registry.Polls(), cfg.Output); err != nil {
			log.Fatalf("Failed to write tallies: %v", err)
		}
		return
	}

	results, err := coord.FinalizePolls(ctx, ids)
	if err != nil {
		log.Fatalf("Failed to finalize polls: %v", err)
	}
	for _, id := range ids {
		if err := writeTally(cfg.Output, results[id]); err != nil {
			log.Fatalf("Failed to write tally of poll %s: %v", id, err)
		}
	}
	log.Infow("polls finalized", "count", len(results), "output", cfg.Output)
}

// installCoordinatorKey sets the coordinator key on the requested polls and
// returns the ids to finalize. With no explicit ids every closed poll the
// key can be installed on is selected; the others are skipped with a warning.
func installCoordinatorKey(registry *state.MaciState, priv *keys.PrivKey, polls []int) ([]types.PollID, error) {
	explicit := len(polls) > 0
	var candidates []types.PollID
	if explicit {
		for _, id := range polls {
			candidates = append(candidates, types.PollID(id))
		}
	} else {
		candidates = registry.Polls()
	}

	var ids []types.PollID
	for _, id := range candidates {
		poll, err := registry.Poll(id)
		if err != nil {
			return nil, err
		}
		if !explicit && poll.IsOpen() {
			continue
		}
		// only the deployed key is installed, never a replacement
		err = state.ErrCoordinatorKeyMismatch
		if poll.CoordinatorPubKey().Equal(priv.Public()) {
			err = poll.SetCoordinatorKeypair(priv)
		}
		if err != nil {
			if explicit {
				return nil, fmt.Errorf("poll %s: %w", id, err)
			}
			log.Warnw("skipping poll", "poll", id.String(), "error", err.Error())
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// writeStoredTallies exports the tally of every poll with a stored result.
func writeStoredTallies(stg *storage.Storage, ids []types.PollID, dir string) error {
	for _, id := range ids {
		if !stg.HasTallyData(id) {
			continue
		}
		td, err := stg.TallyData(id)
		if err != nil {
			return err
		}
		if err := writeTally(dir, td); err != nil {
			return err
		}
	}
	return nil
}

func writeTally(dir string, td *state.TallyData) error {
	if td == nil {
		return nil
	}
	data, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(dir, fmt.Sprintf("tally-%d.json", uint64(td.PollID)))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return err
	}
	log.Infow("tally written", "poll", td.PollID.String(), "file", name)
	return nil
}
