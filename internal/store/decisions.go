package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// defaultDecisionRingSize bounds the decision cache; the dashboard only
// ever shows the recent tail.
const defaultDecisionRingSize = 50

// DecisionDocument is the dashboard-facing snapshot of the engine's most
// recent combined signals and cycle state. Decisions are stored as raw
// JSON; the store does not interpret the signal shape.
type DecisionDocument struct {
	Version   string            `json:"version"`
	CycleID   string            `json:"cycle_id"`
	State     string            `json:"state"` // last cycle outcome, e.g. OK or DEGRADED
	UpdatedAt time.Time         `json:"updated_at"`
	Decisions []json.RawMessage `json:"decisions"`
}

// DecisionCache persists the ring of recent combined signals.
type DecisionCache struct {
	mu   sync.Mutex
	path string
	size int
}

// NewDecisionCache opens the decision cache under the data directory.
// size bounds the ring; zero means the default.
func NewDecisionCache(dataDir string, size int) *DecisionCache {
	if size <= 0 {
		size = defaultDecisionRingSize
	}
	return &DecisionCache{
		path: filepath.Join(dataDir, "cache", "latest_decisions.json"),
		size: size,
	}
}

// Record appends a cycle's combined signals, trimming to the ring size.
func (c *DecisionCache) Record(cycleID, state string, decisions []json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.load()
	if err != nil {
		return err
	}

	doc.Version = SchemaVersion
	doc.CycleID = cycleID
	doc.State = state
	doc.UpdatedAt = time.Now().UTC()
	doc.Decisions = append(doc.Decisions, decisions...)
	if len(doc.Decisions) > c.size {
		doc.Decisions = doc.Decisions[len(doc.Decisions)-c.size:]
	}
	return WriteJSONAtomic(c.path, doc)
}

// Latest returns the persisted document, or an empty one if none exists.
func (c *DecisionCache) Latest() (*DecisionDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load()
}

func (c *DecisionCache) load() (*DecisionDocument, error) {
	var doc DecisionDocument
	if err := ReadJSON(c.path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &DecisionDocument{Version: SchemaVersion}, nil
		}
		return nil, err
	}
	if err := CheckSchemaVersion(doc.Version); err != nil {
		return nil, err
	}
	return &doc, nil
}
