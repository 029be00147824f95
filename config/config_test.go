package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTOML = `
[monitor]
interval = "2s"
max_thread_runtime = 90000
interrupt_blockers = true

[log]
level = "warning"
stdout = false

[queue]
stagger = "250ms"
`

func TestReadTOML(t *testing.T) {
	src, err := ParseTOML(testTOML)
	require.NoError(t, err)

	s, err := Read(src)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, s.MonitorInterval)
	require.Equal(t, 90*time.Second, s.MaxThreadRuntime)
	require.True(t, s.InterruptBlockers)
	require.Equal(t, "warning", s.LogLevel)
	require.False(t, s.LogStdout)
	require.Equal(t, 250*time.Millisecond, s.QueueStagger)
	// untouched keys keep their defaults.
	require.Equal(t, Defaults().StopGrace, s.StopGrace)
	require.Equal(t, Defaults().RPCAddr, s.RPCAddr)
}

func TestTableIsNotAValue(t *testing.T) {
	src, err := ParseTOML(testTOML)
	require.NoError(t, err)
	_, ok := src.Lookup("monitor")
	require.False(t, ok)
}

func TestChainPrecedence(t *testing.T) {
	src, err := ParseTOML(testTOML)
	require.NoError(t, err)
	c := Chain{MapSource{"queue.stagger": "3s"}, nil, src}
	d, err := Duration(c, "queue.stagger", 0)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, d)
	d, err = Duration(c, "monitor.interval", 0)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, d)
}

func TestEnvSource(t *testing.T) {
	t.Setenv("JOBQ_MONITOR_MAX_THREAD_RUNTIME", "1m")
	s, err := Read(EnvSource{})
	require.NoError(t, err)
	require.Equal(t, time.Minute, s.MaxThreadRuntime)
}

func TestInvalidValues(t *testing.T) {
	_, err := Read(MapSource{"monitor.interrupt_blockers": "maybe"})
	require.Error(t, err)
	_, err = Read(MapSource{"queue.stagger": "soon"})
	require.Error(t, err)
	_, err = Float(MapSource{"x": "y"}, "x", 0)
	require.Error(t, err)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobq.toml")
	require.NoError(t, os.WriteFile(path, []byte(testTOML), 0644))

	got := make(chan Settings, 4)
	w, err := Watch(path, nil, func(s Settings) { got <- s })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("[monitor]\ninterval = \"7s\"\n"), 0644))
	select {
	case s := <-got:
		require.Equal(t, 7*time.Second, s.MonitorInterval)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not noticed")
	}
}

func TestKindLimits(t *testing.T) {
	src, err := ParseTOML(`
[kinds.sim]
max = 2

[kinds.render]
max = 4

[kinds."render.gpu"]
parent = "render"
max = 1
exclusive = true
`)
	require.NoError(t, err)
	limits, err := src.KindLimits()
	require.NoError(t, err)
	require.Equal(t, []KindLimit{
		{Kind: "sim", Max: 2},
		{Kind: "render", Max: 4},
		{Kind: "render.gpu", Parent: "render", Max: 1, Exclusive: true},
	}, limits)

	src, err = ParseTOML("[monitor]\ninterval = \"1s\"\n")
	require.NoError(t, err)
	limits, err = src.KindLimits()
	require.NoError(t, err)
	require.Empty(t, limits)

	src, err = ParseTOML("kinds = 3\n")
	require.NoError(t, err)
	_, err = src.KindLimits()
	require.Error(t, err)
}
