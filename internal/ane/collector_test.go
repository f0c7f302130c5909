package ane

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/halvard/anemeter/internal/errors"
	"codeberg.org/halvard/anemeter/internal/model"
)

// asRoot makes privileged() succeed regardless of the test runner's
// actual credentials.
func asRoot(t *testing.T) {
	t.Helper()

	orig := geteuid
	geteuid = func() int { return 0 }
	t.Cleanup(func() { geteuid = orig })
}

func asUser(t *testing.T) {
	t.Helper()

	orig := geteuid
	geteuid = func() int { return 1000 }
	t.Cleanup(func() { geteuid = orig })
}

// stubPowermetrics writes a shell script that stands in for the real
// binary and returns its path.
func stubPowermetrics(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "powermetrics")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return path
}

func receivePair(t *testing.T, ch <-chan SamplePair) SamplePair {
	t.Helper()

	select {
	case pair := <-ch:
		return pair
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sample pair")
		return SamplePair{}
	}
}

const streamScript = `#!/bin/sh
printf '%s' '{"processor":{"ane_energy":4000,"cpu_energy":2000,"clusters":[{"name":"E-Cluster","idle_ratio":0.7,"freq_hz":1200000000},{"name":"P-Cluster","idle_ratio":0.2,"freq_hz":3200000000}]}}'
printf '%s' '{"processor":{"ane_energy":8000,"cpu_energy":1000,"clusters":[]}}'
exec sleep 60
`

func newStreamingCollector(t *testing.T, script string) *Collector {
	t.Helper()

	c, err := New(Config{
		Interval:   time.Second,
		MaxPowerMW: 8000,
		BinPath:    stubPowermetrics(t, script),
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.StopStreaming() })

	return c
}

func TestNewDefaults(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	assert.Equal(t, time.Second, c.cfg.Interval)
	assert.InDelta(t, model.DefaultMaxANEPowerMW, c.cfg.MaxPowerMW, 0.001)
	assert.Equal(t, defaultBinPath, c.cfg.BinPath)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{Interval: -time.Second})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrInvalidInterval), "expected invalid_interval, got %v", err)

	_, err = New(Config{MaxPowerMW: -5})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrInvalidMaxPower), "expected invalid_max_power, got %v", err)
}

func TestStartStreamingRequiresPrivilege(t *testing.T) {
	asUser(t)

	c, err := New(Config{BinPath: "/nonexistent"})
	require.NoError(t, err)

	err = c.StartStreaming(nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrNotPrivileged), "expected ane_not_privileged, got %v", err)
	assert.False(t, c.streaming.Load(), "failed start must stay idle")
}

func TestStartStreamingSpawnFailure(t *testing.T) {
	asRoot(t)

	c, err := New(Config{BinPath: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)

	err = c.StartStreaming(nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrSpawnFailed), "expected ane_spawn_failed, got %v", err)
	assert.False(t, c.streaming.Load(), "failed start must stay idle")
}

func TestStreamingWithCallback(t *testing.T) {
	asRoot(t)

	pairs := make(chan SamplePair, 4)
	c := newStreamingCollector(t, streamScript)

	err := c.StartStreaming(func(p model.PowerSample, cl model.ClusterSample) {
		pairs <- SamplePair{Power: p, Cluster: cl}
	})
	require.NoError(t, err)

	first := receivePair(t, pairs)
	assert.InDelta(t, 4000.0, first.Power.PowerMW, 0.001)
	assert.InDelta(t, 50.0, first.Power.EstimatedUtilization, 0.001)
	assert.InDelta(t, 30.0, first.Cluster.EClusterActive, 0.001)
	assert.InDelta(t, 80.0, first.Cluster.PClusterActive, 0.001)
	assert.Equal(t, 1200, first.Cluster.EClusterFreqMHz)
	assert.Equal(t, 3200, first.Cluster.PClusterFreqMHz)
	assert.InDelta(t, 2000.0, first.Cluster.CPUPowerMW, 0.001)

	second := receivePair(t, pairs)
	assert.InDelta(t, 8000.0, second.Power.PowerMW, 0.001)
	assert.InDelta(t, 100.0, second.Power.EstimatedUtilization, 0.001)

	c.StopStreaming()

	require.NotNil(t, c.LastSample())
	assert.InDelta(t, 8000.0, c.LastSample().PowerMW, 0.001)
	require.NotNil(t, c.LastClusterSample())
}

func TestStreamingQueue(t *testing.T) {
	asRoot(t)

	c := newStreamingCollector(t, streamScript)
	require.NoError(t, c.StartStreaming(nil))

	first, ok := c.GetSample(5 * time.Second)
	require.True(t, ok)
	assert.InDelta(t, 4000.0, first.Power.PowerMW, 0.001)

	second, ok := c.GetSample(5 * time.Second)
	require.True(t, ok)
	assert.InDelta(t, 8000.0, second.Power.PowerMW, 0.001)

	_, ok = c.GetSample(100 * time.Millisecond)
	assert.False(t, ok, "queue should be drained")
}

func TestGetSampleTimeout(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	start := time.Now()
	_, ok := c.GetSample(50 * time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestStreamingDropsMalformedRecord(t *testing.T) {
	asRoot(t)

	const script = `#!/bin/sh
printf '%s' '{"processor":{"ane_energy":1000,"cpu_energy":0,"clusters":[]}}'
printf '%s' '{"processor":{,}}'
printf '%s' '{"processor":{"ane_energy":2000,"cpu_energy":0,"clusters":[]}}'
exec sleep 60
`

	c := newStreamingCollector(t, script)
	require.NoError(t, c.StartStreaming(nil))

	first, ok := c.GetSample(5 * time.Second)
	require.True(t, ok)
	assert.InDelta(t, 1000.0, first.Power.PowerMW, 0.001)

	second, ok := c.GetSample(5 * time.Second)
	require.True(t, ok, "stream must survive a malformed record")
	assert.InDelta(t, 2000.0, second.Power.PowerMW, 0.001)
}

func TestStreamingClusterOnlyRecord(t *testing.T) {
	asRoot(t)

	const script = `#!/bin/sh
printf '%s' '{"processor":{"ane_energy":0,"cpu_energy":1000,"clusters":[{"name":"E-Cluster","idle_ratio":0.4,"freq_hz":1000000000}]}}'
exec sleep 60
`

	delivered := make(chan SamplePair, 1)
	c := newStreamingCollector(t, script)

	err := c.StartStreaming(func(p model.PowerSample, cl model.ClusterSample) {
		delivered <- SamplePair{Power: p, Cluster: cl}
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.LastClusterSample() != nil
	}, 5*time.Second, 10*time.Millisecond, "cluster sample must be retained even without ANE activity")

	assert.InDelta(t, 60.0, c.LastClusterSample().EClusterActive, 0.001)
	assert.Nil(t, c.LastSample(), "idle ANE must not produce a power sample")
	assert.Empty(t, delivered, "idle ANE must not trigger delivery")
}

func TestIdleRecordClearsLastSample(t *testing.T) {
	asRoot(t)

	const script = `#!/bin/sh
printf '%s' '{"processor":{"ane_energy":4000,"cpu_energy":2000,"clusters":[{"name":"E-Cluster","idle_ratio":0.7,"freq_hz":1200000000}]}}'
printf '%s' '{"processor":{"ane_energy":0,"cpu_energy":500,"clusters":[{"name":"E-Cluster","idle_ratio":0.4,"freq_hz":1000000000}]}}'
exec sleep 60
`

	c := newStreamingCollector(t, script)
	require.NoError(t, c.StartStreaming(nil))

	pair, ok := c.GetSample(5 * time.Second)
	require.True(t, ok)
	assert.InDelta(t, 4000.0, pair.Power.PowerMW, 0.001)

	require.Eventually(t, func() bool {
		cluster := c.LastClusterSample()
		return cluster != nil && cluster.EClusterActive > 59
	}, 5*time.Second, 10*time.Millisecond, "idle record must still be parsed")

	assert.Nil(t, c.LastSample(), "last power sample must track the latest parsed record")
	assert.InDelta(t, 60.0, c.LastClusterSample().EClusterActive, 0.001)
}

func TestStartStreamingIdempotent(t *testing.T) {
	asRoot(t)

	c := newStreamingCollector(t, streamScript)
	require.NoError(t, c.StartStreaming(nil))

	c.mu.Lock()
	firstProc := c.proc
	c.mu.Unlock()
	require.NotNil(t, firstProc)

	require.NoError(t, c.StartStreaming(nil), "second start must be a no-op")

	c.mu.Lock()
	secondProc := c.proc
	c.mu.Unlock()
	assert.Same(t, firstProc, secondProc, "second start must not spawn another subprocess")
}

func TestStopStreamingReapsSubprocess(t *testing.T) {
	asRoot(t)

	c := newStreamingCollector(t, streamScript)
	require.NoError(t, c.StartStreaming(nil))

	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()
	require.NotNil(t, proc)

	c.StopStreaming()

	assert.NotNil(t, proc.cmd.ProcessState, "subprocess must be reaped on stop")
	assert.False(t, c.streaming.Load())
}

func TestStopStreamingIdempotent(t *testing.T) {
	asRoot(t)

	c := newStreamingCollector(t, streamScript)

	c.StopStreaming() // never started

	require.NoError(t, c.StartStreaming(nil))
	c.StopStreaming()
	c.StopStreaming() // second stop is a no-op

	assert.False(t, c.streaming.Load())
}

func TestClose(t *testing.T) {
	asRoot(t)

	c := newStreamingCollector(t, streamScript)
	require.NoError(t, c.StartStreaming(nil))
	require.NoError(t, c.Close())
	assert.False(t, c.streaming.Load())
}

func TestSampleRequiresPrivilege(t *testing.T) {
	asUser(t)

	c, err := New(Config{})
	require.NoError(t, err)

	sample, err := c.Sample(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrNotPrivileged), "expected ane_not_privileged, got %v", err)
	assert.Nil(t, sample)
}

func TestSampleOneShot(t *testing.T) {
	asRoot(t)

	const script = `#!/bin/sh
printf '%s' '{"processor":{"ane_energy":4000,"cpu_energy":2000,"clusters":[{"name":"E-Cluster","idle_ratio":0.7,"freq_hz":1200000000}]}}'
`

	c, err := New(Config{
		Interval:   time.Second,
		MaxPowerMW: 8000,
		BinPath:    stubPowermetrics(t, script),
	})
	require.NoError(t, err)

	sample, err := c.Sample(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sample)
	assert.InDelta(t, 4000.0, sample.PowerMW, 0.001)
	assert.InDelta(t, 50.0, sample.EstimatedUtilization, 0.001)

	require.NotNil(t, c.LastSample())
	require.NotNil(t, c.LastClusterSample())
	assert.InDelta(t, 30.0, c.LastClusterSample().EClusterActive, 0.001)
}

func TestSampleIdleWindowClearsLastSample(t *testing.T) {
	asRoot(t)

	// Active on the first invocation, idle on every one after.
	const script = `#!/bin/sh
marker="$(dirname "$0")/ran"
if [ -f "$marker" ]; then
  printf '%s' '{"processor":{"ane_energy":0,"cpu_energy":500,"clusters":[]}}'
else
  touch "$marker"
  printf '%s' '{"processor":{"ane_energy":4000,"cpu_energy":2000,"clusters":[]}}'
fi
`

	c, err := New(Config{
		Interval:   time.Second,
		MaxPowerMW: 8000,
		BinPath:    stubPowermetrics(t, script),
	})
	require.NoError(t, err)

	sample, err := c.Sample(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sample)
	require.NotNil(t, c.LastSample())

	sample, err = c.Sample(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sample)
	assert.Nil(t, c.LastSample(), "an idle window must clear the last power sample")
}

func TestSampleDegradesOnFailure(t *testing.T) {
	asRoot(t)

	c, err := New(Config{BinPath: stubPowermetrics(t, "#!/bin/sh\nexit 1\n")})
	require.NoError(t, err)

	sample, err := c.Sample(context.Background())
	assert.NoError(t, err, "subprocess failure degrades to no sample, not an error")
	assert.Nil(t, sample)
}

func TestSampleDegradesOnGarbageOutput(t *testing.T) {
	asRoot(t)

	c, err := New(Config{BinPath: stubPowermetrics(t, "#!/bin/sh\nprintf 'not json'\n")})
	require.NoError(t, err)

	sample, err := c.Sample(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, sample)
}
