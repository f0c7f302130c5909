// Package ane estimates Apple Neural Engine utilization by sampling
// power telemetry from the macOS powermetrics tool. The ANE exposes no
// occupancy counters, so utilization is inferred from package power
// draw relative to an assumed peak.
package ane

import (
	"bufio"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/halvard/anemeter/internal/logger"
	"codeberg.org/halvard/anemeter/internal/model"
)

const (
	queueSize      = 128
	workerJoinWait = time.Second
)

// Config holds collector tunables. Zero fields take defaults.
type Config struct {
	Interval   time.Duration // sampling window length
	MaxPowerMW float64       // assumed peak ANE power draw
	BinPath    string        // powermetrics binary
}

func (c Config) withDefaults() Config {
	if c.Interval == 0 {
		c.Interval = time.Second
	}
	if c.MaxPowerMW == 0 {
		c.MaxPowerMW = model.DefaultMaxANEPowerMW
	}
	if c.BinPath == "" {
		c.BinPath = defaultBinPath
	}

	return c
}

func (c Config) validate() error {
	if c.Interval < time.Millisecond {
		return errFactory.WithData(ErrInvalidInterval, c.Interval.String())
	}
	if c.MaxPowerMW <= 0 {
		return errFactory.WithData(ErrInvalidMaxPower, c.MaxPowerMW)
	}

	return nil
}

// Callback receives each sample pair as it is parsed, on the stream
// worker goroutine. A nil callback routes samples to the internal
// queue for GetSample instead.
type Callback func(model.PowerSample, model.ClusterSample)

// SamplePair couples the ANE power sample with the CPU cluster sample
// derived from the same powermetrics record.
type SamplePair struct {
	Power   model.PowerSample
	Cluster model.ClusterSample
}

// Collector samples ANE power telemetry, either continuously from a
// streaming powermetrics subprocess or one window at a time.
//
// At most one subprocess runs per collector. StartStreaming is
// idempotent and StopStreaming is safe to call at any time, including
// twice. All other methods are safe for concurrent use.
type Collector struct {
	cfg Config

	mu         sync.Mutex // guards state transitions
	streaming  atomic.Bool
	proc       *process
	workerDone chan struct{}

	queue chan SamplePair

	lastPower   atomic.Pointer[model.PowerSample]
	lastCluster atomic.Pointer[model.ClusterSample]
}

// New creates a collector. Zero config fields take defaults; invalid
// values are rejected.
func New(cfg Config) (*Collector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Collector{
		cfg:   cfg,
		queue: make(chan SamplePair, queueSize),
	}, nil
}

// StartStreaming launches the powermetrics subprocess and a worker
// goroutine that parses its output. Calling it while streaming is a
// no-op. Samples go to the callback if one is given, otherwise to the
// queue read by GetSample.
func (c *Collector) StartStreaming(callback Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streaming.Load() {
		logger.Debug().Msg("Streaming already active")
		return nil
	}

	if !privileged() {
		return errFactory.WithMessage(ErrNotPrivileged, "powermetrics requires root privileges")
	}

	proc, err := spawn(c.cfg)
	if err != nil {
		return err
	}

	c.proc = proc
	c.streaming.Store(true)
	c.workerDone = make(chan struct{})

	go c.stream(proc, callback, c.workerDone)

	logger.Debug().
		Int("pid", proc.cmd.Process.Pid).
		Dur("interval", c.cfg.Interval).
		Msg("Started powermetrics streaming")

	return nil
}

// StopStreaming terminates the subprocess and waits briefly for the
// worker to drain. It is safe to call at any time, including when no
// stream is active.
func (c *Collector) StopStreaming() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.streaming.Load() && c.proc == nil {
		return
	}

	c.streaming.Store(false)

	if c.proc != nil {
		c.proc.stop()
		c.proc = nil
	}

	if c.workerDone != nil {
		select {
		case <-c.workerDone:
		case <-time.After(workerJoinWait):
			logger.Warn().Msg("Stream worker did not stop in time")
		}
		c.workerDone = nil
	}

	logger.Debug().Msg("Stopped powermetrics streaming")
}

// Close stops streaming and releases the subprocess. It implements
// io.Closer.
func (c *Collector) Close() error {
	c.StopStreaming()
	return nil
}

// Sample runs a single powermetrics window and returns the resulting
// power sample. Both return values are nil when the run failed or the
// ANE was idle; only a missing privilege is surfaced as an error.
func (c *Collector) Sample(ctx context.Context) (*model.PowerSample, error) {
	if !privileged() {
		return nil, errFactory.WithMessage(ErrNotPrivileged, "powermetrics requires root privileges")
	}

	out, err := runOnce(ctx, c.cfg)
	if err != nil {
		logger.Debug().Err(err).Msg("One-shot powermetrics run failed")
		return nil, nil
	}

	var rec record
	if err := json.Unmarshal(out, &rec); err != nil {
		logger.Debug().Err(err).Msg("Undecodable one-shot powermetrics output")
		return nil, nil
	}

	power, cluster := parseRecord(rec, c.cfg.Interval, c.cfg.MaxPowerMW, time.Now())
	c.lastPower.Store(power)
	c.lastCluster.Store(cluster)

	return power, nil
}

// GetSample waits up to timeout for the next streamed sample pair.
// It yields samples only when streaming was started without a
// callback.
func (c *Collector) GetSample(timeout time.Duration) (SamplePair, bool) {
	select {
	case pair := <-c.queue:
		return pair, true
	case <-time.After(timeout):
		return SamplePair{}, false
	}
}

// LastSample returns the ANE power sample from the most recently
// parsed record, or nil when nothing has been parsed yet or the latest
// record carried no ANE activity. The returned sample must not be
// modified.
func (c *Collector) LastSample() *model.PowerSample {
	return c.lastPower.Load()
}

// LastClusterSample returns the most recent CPU cluster sample, or nil
// if none has been produced yet. The returned sample must not be
// modified.
func (c *Collector) LastClusterSample() *model.ClusterSample {
	return c.lastCluster.Load()
}

// stream reads the subprocess output byte by byte, reassembles JSON
// records, and publishes the derived samples. It exits when the
// streaming flag clears or the pipe closes, whichever happens first.
func (c *Collector) stream(p *process, callback Callback, done chan struct{}) {
	defer close(done)

	reader := bufio.NewReader(p.stdout)
	var fr framer

	for c.streaming.Load() {
		b, err := reader.ReadByte()
		if err != nil {
			// Pipe closed: subprocess exited or stop reaped it
			return
		}

		chunk, ok := fr.feed(b)
		if !ok {
			continue
		}

		var rec record
		if err := json.Unmarshal(chunk, &rec); err != nil {
			logger.Debug().
				Err(errFactory.Wrap(ErrDecodeFailed, err)).
				Msg("Dropped undecodable powermetrics record")
			continue
		}

		power, cluster := parseRecord(rec, c.cfg.Interval, c.cfg.MaxPowerMW, time.Now())
		c.publish(power, cluster, callback)
	}
}

// publish overwrites the last-sample slots with the outcome of every
// parse and hands the pair to the sink. A record without ANE activity
// clears the last power sample; delivery happens only for records
// that produced one.
func (c *Collector) publish(power *model.PowerSample, cluster *model.ClusterSample, callback Callback) {
	c.lastPower.Store(power)
	c.lastCluster.Store(cluster)

	if power == nil {
		return
	}

	pair := SamplePair{Power: *power, Cluster: *cluster}
	if callback != nil {
		callback(pair.Power, pair.Cluster)
		return
	}
	c.enqueue(pair)
}

// enqueue adds a pair to the queue, evicting the oldest entry when
// full. The worker never blocks on a slow consumer.
func (c *Collector) enqueue(pair SamplePair) {
	for {
		select {
		case c.queue <- pair:
			return
		default:
		}

		select {
		case <-c.queue:
			logger.Debug().Msg("Sample queue full, dropped oldest pair")
		default:
		}
	}
}
