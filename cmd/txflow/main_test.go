package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/txflow/internal/config"
	"github.com/altuslabsxyz/txflow/internal/gatewaytest"
	"github.com/altuslabsxyz/txflow/internal/store"
	"github.com/altuslabsxyz/txflow/pkg/gateway"
	"github.com/altuslabsxyz/txflow/pkg/txhash"
)

type cli struct {
	t    *testing.T
	home string
	gw   *gatewaytest.Server
}

func newCLI(t *testing.T, opts ...gatewaytest.Option) *cli {
	home := t.TempDir()
	t.Setenv(config.EnvHome, home)
	return &cli{t: t, home: home, gw: gatewaytest.Start(t, opts...)}
}

func (c *cli) run(stdin string, args ...string) (string, string, error) {
	c.t.Helper()
	cmd := newRootCmd()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--gateway", c.gw.URL, "--no-color", "--log-level", "error"}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func (c *cli) journal() []*store.Submission {
	c.t.Helper()
	out, _, err := c.run("", "journal", "--json")
	require.NoError(c.t, err)
	var subs []*store.Submission
	require.NoError(c.t, json.Unmarshal([]byte(out), &subs))
	return subs
}

func TestSubmit_WatchUntilUpdated(t *testing.T) {
	c := newCLI(t, gatewaytest.WithAutoAdvance(10*time.Millisecond))

	out, _, err := c.run("", "submit",
		"--type", "MINT",
		"--params", `{"amount":5}`,
		"--content", `{"task":{"title":"Build docs"}}`,
		"--yes", "--watch")
	require.NoError(t, err)

	assert.Contains(t, out, "Transaction registered")
	assert.Contains(t, out, "UPDATED")

	subs := c.journal()
	require.Len(t, subs, 1)
	assert.Equal(t, store.PhaseRegistered, subs[0].Phase)
	assert.Equal(t, "MINT", subs[0].TxType)
	assert.NotEmpty(t, subs[0].Metadata[MetaClientRequestID])
	assert.Equal(t, string(gateway.TxStateUpdated), subs[0].FinalState)

	st, ok := c.gw.Status(subs[0].TxHash)
	require.True(t, ok)
	assert.Equal(t, gateway.TxStateUpdated, st.State)
}

func TestSubmit_RequiresApprovalWithoutTerminal(t *testing.T) {
	c := newCLI(t)

	_, _, err := c.run("", "submit", "--type", "MINT")
	require.Error(t, err)
	assert.Zero(t, c.gw.Hits("/tx/build"))
}

func TestSubmit_UntrackedThenResync(t *testing.T) {
	c := newCLI(t)
	c.gw.FailNext("/tx/register", 400, 1)

	_, stderr, err := c.run("", "submit", "--type", "MINT", "--params", `{"amount":1}`, "--yes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submitted on-chain but could not be registered")
	assert.Contains(t, stderr, "txflow resync")

	subs := c.journal()
	require.Len(t, subs, 1)
	assert.Equal(t, store.PhaseUntracked, subs[0].Phase)
	hash := subs[0].TxHash
	assert.False(t, c.gw.Registered(hash))

	out, _, err := c.run("", "resync")
	require.NoError(t, err)
	assert.Contains(t, out, hash+" registered")
	assert.True(t, c.gw.Registered(hash))

	subs = c.journal()
	assert.Equal(t, store.PhaseRegistered, subs[0].Phase)
	assert.Equal(t, 2, subs[0].Attempts)
}

func TestStatusAndPending(t *testing.T) {
	c := newCLI(t)
	c.gw.SetState("abc", gateway.TxStatePending, "")

	out, _, err := c.run("", "status", "abc", "--json")
	require.NoError(t, err)
	var st gateway.TxStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, gateway.TxStatePending, st.State)

	out, _, err = c.run("", "pending", "--json")
	require.NoError(t, err)
	var list []gateway.TxStatus
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "abc", list[0].TxHash)

	_, _, err = c.run("", "status", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not known")
}

func TestWatch_FailedTransaction(t *testing.T) {
	c := newCLI(t)
	c.gw.SetState("bad", gateway.TxStatePending, "")
	go func() {
		time.Sleep(50 * time.Millisecond)
		c.gw.SetState("bad", gateway.TxStateFailed, "reverted")
	}()

	out, _, err := c.run("", "watch", "bad", "--json")
	require.Error(t, err)

	var results []watchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, gateway.TxStateFailed, results[0].State)
	assert.Equal(t, "reverted", results[0].LastError)
}

func TestHash_Stdin(t *testing.T) {
	c := newCLI(t)

	out, _, err := c.run(`{"b":1,"a":{"y":2,"x":1}}`, "hash")
	require.NoError(t, err)
	want := txhash.MustCompute(map[string]any{"a": map[string]any{"x": 1, "y": 2}, "b": 1})
	assert.Equal(t, want+"\n", out)

	out, _, err = c.run(`{"b":1,"a":true}`, "hash", "--canonical", "-")
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":1}`+"\n", out)
}

func TestConfigShow(t *testing.T) {
	c := newCLI(t)

	out, _, err := c.run("", "config", "show", "--token", "s3cret")
	require.NoError(t, err)
	assert.Contains(t, out, c.gw.URL)
	assert.Contains(t, out, filepath.Join(c.home, "journal.db"))
	assert.NotContains(t, out, "s3cret")

	out, _, err = c.run("", "config", "show", "--yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "transport: auto")
}

func pendingHashes(t *testing.T, c *cli) []string {
	t.Helper()
	out, _, err := c.run("", "pending", "--json")
	require.NoError(t, err)
	var list []gateway.TxStatus
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	hashes := make([]string, 0, len(list))
	for _, st := range list {
		hashes = append(hashes, st.TxHash)
	}
	return hashes
}

func TestPending_ShowsUntrackedSubmission(t *testing.T) {
	c := newCLI(t)
	c.gw.FailNext("/tx/register", 400, 1)

	_, _, err := c.run("", "submit", "--type", "MINT", "--params", `{"amount":1}`, "--yes")
	require.Error(t, err)
	hash := c.journal()[0].TxHash
	require.False(t, c.gw.Registered(hash))

	assert.Equal(t, []string{hash}, pendingHashes(t, c))
}

func TestPending_ShowsRegisteredBeforeGatewayListsIt(t *testing.T) {
	c := newCLI(t)

	_, _, err := c.run("", "submit", "--type", "MINT", "--params", `{"amount":2}`, "--yes")
	require.NoError(t, err)
	hash := c.journal()[0].TxHash

	// The gateway has not indexed its pending list yet.
	c.gw.SetPendingStatus(404)
	assert.Equal(t, []string{hash}, pendingHashes(t, c))

	c.gw.SetPendingStatus(0)
	c.gw.SetState(hash, gateway.TxStateUpdated, "")
	assert.Empty(t, pendingHashes(t, c))

	subs := c.journal()
	require.Len(t, subs, 1)
	assert.Equal(t, string(gateway.TxStateUpdated), subs[0].FinalState)
}
