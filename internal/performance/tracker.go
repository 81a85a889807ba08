// Package performance snapshots portfolio value over time and derives
// return and risk metrics from the series. The tracker reads the ledger
// and trade log; it never mutates them.
package performance

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cryptodrift/driftbot/internal/portfolio"
	"github.com/cryptodrift/driftbot/internal/store"
)

// defaultRetention bounds the snapshot file; the oldest entries roll off.
const defaultRetention = 2000

// Snapshot triggers.
const (
	TriggerStartup   = "startup"
	TriggerScheduled = "scheduled"
	TriggerTrade     = "trade"
	TriggerReset     = "reset"
	TriggerShutdown  = "shutdown"
)

// Snapshot is one observation of portfolio value.
type Snapshot struct {
	Timestamp           time.Time          `json:"timestamp_utc"`
	Trigger             string             `json:"trigger"`
	PortfolioValueQuote float64            `json:"portfolio_value_quote"`
	QuoteBalance        float64            `json:"quote_balance"`
	Holdings            map[string]float64 `json:"holdings,omitempty"`
	TradesExecuted      int                `json:"trades_executed"`
}

type snapshotFile struct {
	Version   string     `json:"version"`
	Snapshots []Snapshot `json:"snapshots"`
}

// ResetRecord preserves the pre-reset state in the append-only reset
// history.
type ResetRecord struct {
	At             time.Time          `json:"at"`
	PreResetValue  float64            `json:"pre_reset_value"`
	Composition    map[string]float64 `json:"composition"`
	TradesExecuted int                `json:"trades_executed"`
}

type trackingConfig struct {
	Version         string        `json:"version"`
	TrackingStarted time.Time     `json:"tracking_started"`
	InitialValue    float64       `json:"initial_value"`
	ResetHistory    []ResetRecord `json:"reset_history,omitempty"`
}

// Tracker persists snapshots and tracking state under
// <dataDir>/performance/.
type Tracker struct {
	mu        sync.Mutex
	snapPath  string
	cfgPath   string
	retention int
}

// NewTracker opens the performance store under the data directory.
// retention bounds the snapshot series; zero means the default.
func NewTracker(dataDir string, retention int) *Tracker {
	if retention <= 0 {
		retention = defaultRetention
	}
	dir := filepath.Join(dataDir, "performance")
	return &Tracker{
		snapPath:  filepath.Join(dir, "portfolio_snapshots.json"),
		cfgPath:   filepath.Join(dir, "performance_config.json"),
		retention: retention,
	}
}

// Record appends a snapshot of the view, starting tracking on first use.
func (t *Tracker) Record(trigger string, view portfolio.View) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cfg, err := t.loadConfig()
	if err != nil {
		return err
	}
	if cfg.TrackingStarted.IsZero() {
		cfg.TrackingStarted = time.Now().UTC()
		cfg.InitialValue = view.PortfolioValueQuote
		if err := t.saveConfig(cfg); err != nil {
			return err
		}
	}

	file, err := t.loadSnapshots()
	if err != nil {
		return err
	}

	holdings := make(map[string]float64, len(view.Holdings))
	for sym, h := range view.Holdings {
		if h.Amount > 0 {
			holdings[sym] = h.Amount
		}
	}

	file.Version = store.SchemaVersion
	file.Snapshots = append(file.Snapshots, Snapshot{
		Timestamp:           time.Now().UTC(),
		Trigger:             trigger,
		PortfolioValueQuote: view.PortfolioValueQuote,
		QuoteBalance:        view.QuoteBalance,
		Holdings:            holdings,
		TradesExecuted:      view.TradesExecuted,
	})
	if len(file.Snapshots) > t.retention {
		file.Snapshots = file.Snapshots[len(file.Snapshots)-t.retention:]
	}
	return store.WriteJSONAtomic(t.snapPath, file)
}

// Reset appends the pre-reset state to the reset history and re-bases the
// initial value at the current one. Metrics computed afterwards treat the
// reset instant as the new start.
func (t *Tracker) Reset(view portfolio.View) error {
	t.mu.Lock()
	cfg, err := t.loadConfig()
	if err != nil {
		t.mu.Unlock()
		return err
	}

	composition := make(map[string]float64, len(view.Holdings))
	for sym, h := range view.Holdings {
		if h.Amount > 0 {
			composition[sym] = h.Amount
		}
	}
	cfg.ResetHistory = append(cfg.ResetHistory, ResetRecord{
		At:             time.Now().UTC(),
		PreResetValue:  view.PortfolioValueQuote,
		Composition:    composition,
		TradesExecuted: view.TradesExecuted,
	})
	cfg.InitialValue = view.PortfolioValueQuote
	cfg.TrackingStarted = time.Now().UTC()
	if err := t.saveConfig(cfg); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	log.Info().
		Float64("pre_reset_value", view.PortfolioValueQuote).
		Msg("Performance tracking reset")
	return t.Record(TriggerReset, view)
}

// Snapshots returns the persisted series, oldest first.
func (t *Tracker) Snapshots() ([]Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	file, err := t.loadSnapshots()
	if err != nil {
		return nil, err
	}
	return file.Snapshots, nil
}

func (t *Tracker) loadSnapshots() (*snapshotFile, error) {
	var file snapshotFile
	if err := store.ReadJSON(t.snapPath, &file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &snapshotFile{Version: store.SchemaVersion}, nil
		}
		return nil, err
	}
	if err := store.CheckSchemaVersion(file.Version); err != nil {
		return nil, err
	}
	return &file, nil
}

func (t *Tracker) loadConfig() (*trackingConfig, error) {
	var cfg trackingConfig
	if err := store.ReadJSON(t.cfgPath, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &trackingConfig{Version: store.SchemaVersion}, nil
		}
		return nil, err
	}
	if err := store.CheckSchemaVersion(cfg.Version); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (t *Tracker) saveConfig(cfg *trackingConfig) error {
	cfg.Version = store.SchemaVersion
	return store.WriteJSONAtomic(t.cfgPath, cfg)
}
