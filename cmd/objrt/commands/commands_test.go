package commands_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/objrt/cmd/objrt/commands"
	"github.com/Sumatoshi-tech/objrt/pkg/serialize"
)

const baseConfig = `logging:
  level: warn
stress:
  workers: 3
  iterations: 300
  vocabulary: 24
`

type result struct {
	stdout string
	stderr string
	err    error
}

func writeConfig(t *testing.T, extra string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "objrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(baseConfig+extra), 0o600))

	return path
}

func execute(t *testing.T, configExtra, stdin string, args ...string) result {
	t.Helper()

	var stdout, stderr bytes.Buffer

	root := commands.NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", writeConfig(t, configExtra)}, args...))

	err := root.ExecuteContext(context.Background())

	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func TestVersion(t *testing.T) {
	t.Parallel()

	res := execute(t, "", "", "version")
	require.NoError(t, res.err)
	assert.True(t, strings.HasPrefix(res.stdout, "objrt "))
	assert.Contains(t, res.stdout, "commit:")
}

func TestIntern_Table(t *testing.T) {
	t.Parallel()

	res := execute(t, "", "", "intern", "IOService", "IOService", "kext")
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "IOService")
	assert.Contains(t, res.stdout, "kext")
	assert.Contains(t, res.stdout, "pool: 2 live, 31 buckets (floor 31")
}

type internOutput struct {
	Symbols []struct {
		Text      string `json:"text"      yaml:"text"`
		Refs      int    `json:"refs"      yaml:"refs"`
		Ownership string `json:"ownership" yaml:"ownership"`
	} `json:"symbols" yaml:"symbols"`
	Relocated int `json:"relocated" yaml:"relocated"`
	Stats     struct {
		Live     int `json:"live"     yaml:"live"`
		Buckets  int `json:"buckets"  yaml:"buckets"`
		Borrowed int `json:"borrowed" yaml:"borrowed"`
	} `json:"stats" yaml:"stats"`
}

func TestIntern_JSON(t *testing.T) {
	t.Parallel()

	res := execute(t, "pool:\n  initial_buckets: 4\n", "", "intern", "-f", "json", "a", "b", "a")
	require.NoError(t, res.err)

	var out internOutput

	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	require.Len(t, out.Symbols, 2)

	assert.Equal(t, "a", out.Symbols[0].Text)
	assert.Equal(t, 2, out.Symbols[0].Refs)
	assert.Equal(t, "b", out.Symbols[1].Text)
	assert.Equal(t, 1, out.Symbols[1].Refs)
	assert.Equal(t, 2, out.Stats.Live)
	assert.Equal(t, 7, out.Stats.Buckets)
}

func TestIntern_NoCopyYAMLFromStdin(t *testing.T) {
	t.Parallel()

	res := execute(t, "", "alpha\nbeta\nalpha\n", "intern", "--stdin", "--no-copy", "--format", "yaml")
	require.NoError(t, res.err)

	var out internOutput

	require.NoError(t, yaml.Unmarshal([]byte(res.stdout), &out))
	require.Len(t, out.Symbols, 2)

	assert.Equal(t, "borrowed", out.Symbols[0].Ownership)
	assert.Equal(t, 2, out.Relocated)
	assert.Equal(t, 0, out.Stats.Borrowed)
}

func TestIntern_TraceRefsLogsAtDebug(t *testing.T) {
	t.Parallel()

	res := execute(t, "", "", "intern", "-v", "--trace-refs", "x", "x")
	require.NoError(t, res.err)

	assert.Contains(t, res.stderr, "refcount retain")
	assert.Contains(t, res.stderr, "kind=OSSymbol")
}

func TestIntern_Errors(t *testing.T) {
	t.Parallel()

	res := execute(t, "", "", "intern")
	require.ErrorIs(t, res.err, commands.ErrNoInput)

	res = execute(t, "", "", "intern", "--format", "xml", "a")
	require.ErrorIs(t, res.err, commands.ErrUnknownFormat)
}

func TestSerialize_DeduplicatesWithReferences(t *testing.T) {
	t.Parallel()

	res := execute(t, "", "", "serialize", "a<b", "c", "a<b")
	require.NoError(t, res.err)

	want := `<array ID="0"><string ID="1">a&lt;b</string><string ID="2">c</string>` +
		`<reference IDREF="1"/></array>` + "\n"
	assert.Equal(t, want, res.stdout)
}

func TestSerialize_Stats(t *testing.T) {
	t.Parallel()

	res := execute(t, "serializer:\n  capacity: 8\n  increment: 8\n", "x\n", "serialize", "--stdin", "--stats")
	require.NoError(t, res.err)

	assert.Contains(t, res.stderr, "serializer:")
	assert.Contains(t, res.stderr, "1 distinct symbols")
}

func TestSerialize_CapacityExceeded(t *testing.T) {
	t.Parallel()

	res := execute(t, "serializer:\n  capacity: 16\n  max_capacity: 32B\n", "",
		"serialize", strings.Repeat("long-string-", 8))
	require.ErrorIs(t, res.err, serialize.ErrCapacityExceeded)
}

func TestStress_ReportsConsistentPool(t *testing.T) {
	t.Parallel()

	res := execute(t, "", "", "stress", "--seed", "42", "--serialize-every", "16")
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "pool consistent")
	assert.Contains(t, res.stdout, "live 0")
}

func TestStress_WithMetricsServer(t *testing.T) {
	t.Parallel()

	res := execute(t, "", "", "stress", "--workers", "2", "--iterations", "100", "--metrics-addr", "127.0.0.1:0")
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "pool consistent")
}

func TestStress_RejectsArgs(t *testing.T) {
	t.Parallel()

	res := execute(t, "", "", "stress", "extra")
	require.Error(t, res.err)
}
