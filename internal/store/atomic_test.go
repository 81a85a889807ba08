package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteJSONAtomic_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")

	want := testDoc{Name: "alpha", Count: 3}
	require.NoError(t, WriteJSONAtomic(path, want))

	var got testDoc
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, want, got)
}

func TestWriteJSONAtomic_PromotesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")

	require.NoError(t, WriteJSONAtomic(path, testDoc{Name: "v1"}))
	require.NoError(t, WriteJSONAtomic(path, testDoc{Name: "v2"}))

	var bak testDoc
	require.NoError(t, ReadJSON(path+".bak", &bak))
	assert.Equal(t, "v1", bak.Name)

	var cur testDoc
	require.NoError(t, ReadJSON(path, &cur))
	assert.Equal(t, "v2", cur.Name)
}

func TestReadJSON_FallsBackToBackupOnCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")

	require.NoError(t, WriteJSONAtomic(path, testDoc{Name: "good"}))
	require.NoError(t, WriteJSONAtomic(path, testDoc{Name: "newer"}))

	// Corrupt the primary; the backup must win and the primary must not
	// be rewritten behind the reader's back.
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))

	var got testDoc
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, "good", got.Name)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{truncated", string(raw))
}

func TestReadJSON_MissingFile(t *testing.T) {
	var got testDoc
	err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &got)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCheckSchemaVersion(t *testing.T) {
	assert.NoError(t, CheckSchemaVersion(""))
	assert.NoError(t, CheckSchemaVersion(SchemaVersion))
	assert.NoError(t, CheckSchemaVersion("1.9.7"))
	assert.Error(t, CheckSchemaVersion("2.0.0"))
	assert.Error(t, CheckSchemaVersion("not-a-version"))
}

func TestTradeLog_AppendPreservesOrder(t *testing.T) {
	log := NewTradeLog(t.TempDir())

	require.NoError(t, log.Append(TradeRecord{ID: "a", Pair: "BTC-EUR"}))
	require.NoError(t, log.Append(TradeRecord{ID: "b", Pair: "ETH-EUR"}))
	require.NoError(t, log.Append(TradeRecord{ID: "c", Pair: "BTC-EUR"}))

	trades, err := log.All()
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "a", trades[0].ID)
	assert.Equal(t, "b", trades[1].ID)
	assert.Equal(t, "c", trades[2].ID)
}

func TestDecisionCache_TrimsToRing(t *testing.T) {
	cache := NewDecisionCache(t.TempDir(), 2)

	require.NoError(t, cache.Record("c1", "OK", []json.RawMessage{
		json.RawMessage(`{"pair":"BTC-EUR","action":"HOLD"}`),
		json.RawMessage(`{"pair":"ETH-EUR","action":"HOLD"}`),
	}))
	require.NoError(t, cache.Record("c2", "DEGRADED", []json.RawMessage{
		json.RawMessage(`{"pair":"BTC-EUR","action":"BUY"}`),
	}))

	doc, err := cache.Latest()
	require.NoError(t, err)
	assert.Equal(t, "c2", doc.CycleID)
	assert.Equal(t, "DEGRADED", doc.State)

	// The ring keeps only the two most recent decisions.
	require.Len(t, doc.Decisions, 2)
	assert.JSONEq(t, `{"pair":"ETH-EUR","action":"HOLD"}`, string(doc.Decisions[0]))
	assert.JSONEq(t, `{"pair":"BTC-EUR","action":"BUY"}`, string(doc.Decisions[1]))
}

func TestStartupInfo_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadStartupInfo(dir)
	require.Error(t, err)

	require.NoError(t, WriteStartupInfo(dir, StartupInfo{
		PID:            1234,
		SessionID:      "s1",
		RestartContext: RestartContextNormal,
	}))

	info, err := ReadStartupInfo(dir)
	require.NoError(t, err)
	assert.Equal(t, 1234, info.PID)
	assert.Equal(t, RestartContextNormal, info.RestartContext)
}
