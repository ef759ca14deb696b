package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"fixme/internal/config"
	"fixme/internal/store"
	"fixme/internal/tactile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with an isolated config and env file.
func execute(t *testing.T, args ...string) string {
	t.Helper()

	dir := t.TempDir()
	full := append([]string{
		"--config", filepath.Join(dir, "config.yaml"),
		"--env-file", filepath.Join(dir, ".env"),
	}, args...)

	var out bytes.Buffer
	rootCmd.SetArgs(full)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestClassifyCommand(t *testing.T) {
	tests := []struct {
		reply string
		want  string
	}{
		{"yes please", "affirmative"},
		{"stop right there", "abort"},
		{"what does that do", "unrecognized"},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			out := execute(t, "classify", "--lang", "en", tt.reply)
			assert.Equal(t, tt.want+"\n", out)
		})
	}
}

func TestFixesCommandJSON(t *testing.T) {
	out := execute(t, "fixes", "--platform", "windows", "--json")

	var fixes []tactile.Fix
	require.NoError(t, json.Unmarshal([]byte(out), &fixes))
	assert.Equal(t, tactile.CatalogFor("windows"), fixes)
}

func TestFixesCommandTable(t *testing.T) {
	fixesJSON = false
	out := execute(t, "fixes", "--platform", "darwin", "--json=false")

	assert.Contains(t, out, "ID")
	for _, f := range tactile.CatalogFor("darwin") {
		assert.Contains(t, out, f.ID)
	}
}

func TestFixesCommandUnknownPlatform(t *testing.T) {
	out := execute(t, "fixes", "--platform", "plan9", "--json=false")
	assert.Contains(t, out, `No fixes for platform "plan9"`)
}

func TestHistoryCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	t.Setenv("FIXME_DB_PATH", dbPath)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = st.RecordExecution(ctx, store.Execution{
		Source:  "execute_step",
		Command: "ipconfig /flushdns",
		Success: true,
	})
	require.NoError(t, err)
	require.NoError(t, st.RecordRun(ctx, store.Run{
		ID:        "run-1",
		Diagnosis: "DNS cache is stale",
		State:     "completed",
		Total:     1,
		Applied:   1,
		StartedAt: time.Now(),
		EndedAt:   time.Now(),
	}))
	require.NoError(t, st.Close())

	out := execute(t, "history", "--limit", "5")
	assert.Contains(t, out, "ipconfig /flushdns")
	assert.Contains(t, out, "DNS cache is stale")
	assert.Contains(t, out, "1/1")
}

func TestPrintHistoryEmpty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printHistory(&out, nil, nil))
	assert.Equal(t, 2, bytes.Count(out.Bytes(), []byte("(none)")))
}

func TestPrintHistoryFaultStatus(t *testing.T) {
	var out bytes.Buffer
	execs := []store.Execution{{Source: "run_fix", Command: "sleep 99", Fault: "timeout", StartedAt: time.Now()}}
	require.NoError(t, printHistory(&out, execs, nil))
	assert.Contains(t, out.String(), "timeout")
	assert.Contains(t, out.String(), "sleep 99")
}

func TestConfigFlagDefault(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, config.DefaultPath, flag.DefValue)
	assert.Equal(t, filepath.Dir(config.DefaultConfig().Store.Path), filepath.Dir(flag.DefValue))
}
