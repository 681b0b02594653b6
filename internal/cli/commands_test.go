package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/config"
	"github.com/roach88/tally/internal/identity"
	"github.com/roach88/tally/internal/testutil"
	"github.com/roach88/tally/internal/upstream"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// cliEnv runs commands against databases in one temp dir.
type cliEnv struct {
	t   *testing.T
	dir string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	return &cliEnv{t: t, dir: t.TempDir()}
}

func (e *cliEnv) lookupEnv(key string) (string, bool) {
	switch key {
	case config.EnvDatabasePath:
		return filepath.Join(e.dir, "tally.db"), true
	case config.EnvUpstreamDSN:
		return filepath.Join(e.dir, "upstream.db"), true
	}
	return "", false
}

// run executes the CLI with JSON output and the given fixed ids.
func (e *cliEnv) run(ids []string, args ...string) ([]byte, error) {
	e.t.Helper()
	opts := &RootOptions{
		IDs:       identity.NewFixedGenerator(ids...),
		Now:       func() time.Time { return t0 },
		LookupEnv: e.lookupEnv,
	}
	cmd := newRootCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--format", "json", "--env-file", filepath.Join(e.dir, ".env")}, args...))
	err := cmd.Execute()
	return out.Bytes(), err
}

func (e *cliEnv) seedUpstream() {
	e.t.Helper()
	src, err := upstream.OpenSQLite(filepath.Join(e.dir, "upstream.db"))
	require.NoError(e.t, err)
	defer src.Close()
	require.NoError(e.t, src.PutSubscription(context.Background(),
		testutil.Subscription("sub-1", t0.Add(-time.Hour))))
}

// decoded is a CLIResponse with raw data for per-command decoding.
type decoded struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decode(t *testing.T, out []byte, data any) decoded {
	t.Helper()
	var resp decoded
	require.NoError(t, json.Unmarshal(out, &resp), string(out))
	if data != nil && resp.Data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"))
}

func TestMetricsCompute_Golden(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(nil, "metrics", "compute",
		"--amount", "1000", "--currency", "usd",
		"--months", "6", "--sessions", "3", "--minutes", "25")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "metrics_compute", out)
}

func TestMetricsCompute_BadAmount(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(nil, "metrics", "compute", "--amount", "lots")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decode(t, out, nil)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "invalid_input", resp.Error.Code)
}

func TestPlanCreate_Golden(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run([]string{"plan-1", "pay-1", "pay-2"},
		"plan", "create", "--actor", "seller-1",
		"--subscription", "sub-42", "--claim", "claim-42", "--seller", "seller-1",
		"--currency", "TL",
		"--payment", "1:5000:2026-04-01", "--payment", "2:5000:2026-05-01")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "plan_create", out)
}

func TestPlanCreate_NonSequentialGolden(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run([]string{"plan-1", "pay-1", "pay-2", "pay-3"},
		"plan", "create", "--actor", "seller-1",
		"--subscription", "sub-42", "--seller", "seller-1", "--currency", "TRY",
		"--payment", "1:100:2026-04-01", "--payment", "2:100:2026-05-01", "--payment", "4:100:2026-06-01")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	newGoldie(t).Assert(t, "plan_create_non_sequential", out)
}

func TestPlanLifecycle(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run([]string{"plan-1", "pay-1", "pay-2"},
		"plan", "create", "--actor", "seller-1",
		"--subscription", "sub-42", "--seller", "seller-1", "--currency", "TRY",
		"--payment", "1:5000:2026-04-01", "--payment", "2:5000:2026-05-01")
	require.NoError(t, err)

	out, err := env.run(nil, "plan", "submit", "pay-1", "--actor", "seller-1", "--note", "bank transfer")
	require.NoError(t, err)
	var v planView
	decode(t, out, &v)
	assert.Equal(t, "submitted", v.Payments[0].Status)
	assert.Equal(t, "bank transfer", v.Payments[0].Note)

	out, err = env.run(nil, "plan", "confirm", "pay-1", "--actor", "fin-1", "--role", "finance")
	require.NoError(t, err)
	decode(t, out, &v)
	assert.Equal(t, "confirmed", v.Payments[0].Status)
	assert.Equal(t, "fin-1", v.Payments[0].ReviewedBy)
	assert.Equal(t, "pay-2", v.NextDuePaymentID)

	// Sellers cannot confirm.
	out, err = env.run(nil, "plan", "confirm", "pay-2", "--actor", "seller-1")
	require.Error(t, err)
	resp := decode(t, out, nil)
	assert.Equal(t, "forbidden_role", resp.Error.Code)

	out, err = env.run(nil, "plan", "freeze", "plan-1", "--actor", "fin-1", "--role", "finance", "--reason", "chargeback")
	require.NoError(t, err)
	decode(t, out, &v)
	assert.Equal(t, "frozen", v.Status)

	var list planList
	out, err = env.run(nil, "plan", "list", "--actor", "fin-1", "--role", "finance", "--category", "frozen")
	require.NoError(t, err)
	decode(t, out, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "plan-1", list[0].ID)
}

func TestPlan_InvalidRole(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(nil, "plan", "submit", "pay-1", "--actor", "x", "--role", "intern")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	resp := decode(t, out, nil)
	assert.Equal(t, "invalid_input", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "intern")
}

func TestTick_LedgersAndReports(t *testing.T) {
	env := newCLIEnv(t)
	env.seedUpstream()

	out, err := env.run([]string{"ach-1", "ach-2", "ach-3"}, "tick")
	require.NoError(t, err)

	var tick tickView
	resp := decode(t, out, &tick)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, tick.Processed)
	assert.Equal(t, 1, tick.Inserted)
	assert.Equal(t, 1, tick.Jackpots)
	assert.Equal(t, "2026-03-10T11:00:00Z", tick.Cursor)
	assert.Equal(t, []string{"overdue_sweep", "lead_sync", "goal_progress", "revenue_milestones"}, tick.Jobs)

	// A second tick finds nothing new and no sub-job is due.
	out, err = env.run(nil, "tick")
	require.NoError(t, err)
	decode(t, out, &tick)
	assert.Equal(t, 0, tick.Inserted)
	assert.Empty(t, tick.Jobs)

	var ledger ledgerList
	out, err = env.run(nil, "ledger", "list")
	require.NoError(t, err)
	decode(t, out, &ledger)
	require.Len(t, ledger, 1)
	assert.Equal(t, "pending", ledger[0].Status)
	require.NotNil(t, ledger[0].RevenueUSD)
	assert.Equal(t, "1000.00", *ledger[0].RevenueUSD)

	var achievements []achievementView
	out, err = env.run(nil, "achievements", "list", "--type", "jackpot")
	require.NoError(t, err)
	decode(t, out, &achievements)
	require.Len(t, achievements, 1)
	assert.Equal(t, "ach-1", achievements[0].ID)

	var events []struct {
		Type        string `json:"type"`
		BusinessKey string `json:"business_key"`
	}
	out, err = env.run(nil, "events", "tail")
	require.NoError(t, err)
	decode(t, out, &events)
	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Type)
	}
	assert.Contains(t, kinds, "ledger_entry_created")
	assert.Contains(t, kinds, "jackpot")

	var checkpoints checkpointList
	out, err = env.run(nil, "checkpoint", "show", "poller:main")
	require.NoError(t, err)
	decode(t, out, &checkpoints)
	require.Len(t, checkpoints, 1)
	assert.Equal(t, "2026-03-10T11:00:00Z", checkpoints[0].Timestamp)
}

func TestLedgerClaim(t *testing.T) {
	env := newCLIEnv(t)
	env.seedUpstream()
	_, err := env.run([]string{"ach-1", "ach-2"}, "tick")
	require.NoError(t, err)

	out, err := env.run(nil, "ledger", "claim", "sub-1", "--seller", "seller-1")
	require.NoError(t, err)
	var entry ledgerView
	decode(t, out, &entry)
	assert.Equal(t, "claimed", entry.Status)
	assert.Equal(t, "seller-1", entry.ClaimedBy)

	var ledger ledgerList
	out, err = env.run(nil, "ledger", "list", "--seller", "seller-1")
	require.NoError(t, err)
	decode(t, out, &ledger)
	assert.Len(t, ledger, 1)

	out, err = env.run(nil, "ledger", "claim", "sub-missing", "--seller", "seller-1")
	require.Error(t, err)
	resp := decode(t, out, nil)
	assert.Equal(t, "ledger_entry_not_found", resp.Error.Code)
}

func TestCheckpointReset(t *testing.T) {
	env := newCLIEnv(t)
	env.seedUpstream()
	_, err := env.run([]string{"ach-1", "ach-2"}, "tick")
	require.NoError(t, err)

	var reset resetResult
	out, err := env.run(nil, "checkpoint", "reset", "--all")
	require.NoError(t, err)
	decode(t, out, &reset)
	assert.Len(t, reset.Reset, 5)

	var checkpoints checkpointList
	out, err = env.run(nil, "checkpoint", "show")
	require.NoError(t, err)
	decode(t, out, &checkpoints)
	for _, c := range checkpoints {
		assert.Empty(t, c.Timestamp, c.Key)
	}

	// Replaying from scratch inserts nothing twice.
	var tick tickView
	out, err = env.run(nil, "tick")
	require.NoError(t, err)
	decode(t, out, &tick)
	assert.Equal(t, 1, tick.Processed)
	assert.Equal(t, 0, tick.Inserted)
}

func TestCheckpointReset_Rejects(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(nil, "checkpoint", "reset")
	require.Error(t, err)
	assert.Equal(t, "invalid_input", decode(t, out, nil).Error.Code)

	out, err = env.run(nil, "checkpoint", "reset", "poller:nope")
	require.Error(t, err)
	assert.Contains(t, decode(t, out, nil).Error.Message, "poller:nope")
}

func TestGoalCreateAndProgress(t *testing.T) {
	env := newCLIEnv(t)

	var g goalView
	out, err := env.run(nil, "goal", "create", "--id", "g-1", "--title", "March",
		"--target", "1500", "--start", "2026-03-01", "--end", "2026-03-31")
	require.NoError(t, err)
	decode(t, out, &g)
	assert.Equal(t, "1500.00", g.TargetUSD)

	out, err = env.run(nil, "goal", "progress", "g-1")
	require.Error(t, err)
	assert.Equal(t, "goal_not_found", decode(t, out, nil).Error.Code)

	env.seedUpstream()
	_, err = env.run([]string{"ach-1", "ach-2"}, "tick")
	require.NoError(t, err)

	var p goalProgressView
	out, err = env.run(nil, "goal", "progress", "g-1")
	require.NoError(t, err)
	decode(t, out, &p)
	assert.Equal(t, "1000.00", p.ProgressUSD)
	assert.Equal(t, "0.6667", p.Ratio)
}

func TestGoalCreate_Invalid(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(nil, "goal", "create", "--title", "x", "--target", "10",
		"--start", "2026-03-31", "--end", "2026-03-01")
	require.Error(t, err)
	assert.Equal(t, "invalid_input", decode(t, out, nil).Error.Code)
}

func TestMigrate(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(nil, "migrate")
	require.NoError(t, err)

	var res migrateResult
	decode(t, out, &res)
	assert.Equal(t, filepath.Join(env.dir, "tally.db"), res.Database)
	assert.Positive(t, res.SchemaVersion)
}

func TestBadConfigExitsWithCommandError(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(nil, "--config", filepath.Join(env.dir, "missing.yaml"), "migrate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "error", decode(t, out, nil).Status)
}
