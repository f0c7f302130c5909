package ane

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"codeberg.org/halvard/anemeter/internal/logger"
)

const (
	defaultBinPath  = "/usr/bin/powermetrics"
	samplerCategory = "cpu_power"
	termTimeout     = 2 * time.Second
	oneShotSlack    = 5 * time.Second
)

// geteuid is a seam for tests; powermetrics refuses to run without
// root, so the collector checks before spawning.
var geteuid = os.Geteuid

// privileged reports whether the process is allowed to run powermetrics
func privileged() bool {
	return geteuid() == 0
}

// commandArgs builds the powermetrics invocation. count is the number
// of sampling windows to emit; -1 streams until the process is killed.
func (c Config) commandArgs(count int) []string {
	return []string{
		"-i", strconv.Itoa(int(c.Interval / time.Millisecond)),
		"-n", strconv.Itoa(count),
		"--samplers", samplerCategory,
		"-f", "json",
	}
}

// process supervises one spawned powermetrics instance
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// spawn starts powermetrics in streaming mode with its stdout piped
// back to the caller. stderr is discarded; powermetrics writes only
// startup banners there.
func spawn(cfg Config) (*process, error) {
	cmd := exec.Command(cfg.BinPath, cfg.commandArgs(-1)...)
	cmd.Stderr = io.Discard

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errFactory.Wrap(ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, errFactory.Wrap(ErrSpawnFailed, err)
	}

	return &process{cmd: cmd, stdout: stdout}, nil
}

// stop terminates the subprocess: interrupt first, then a forced kill
// if it does not exit within termTimeout. The process is reaped here,
// which also closes the stdout pipe and unblocks the stream reader.
func (p *process) stop() {
	if p == nil || p.cmd.Process == nil {
		return
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(termTimeout):
		_ = p.cmd.Process.Kill()
		select {
		case <-done:
		case <-time.After(termTimeout):
			logger.Warn().Int("pid", p.cmd.Process.Pid).Msg("powermetrics did not exit after kill")
		}
	}
}

// runOnce executes a single-window powermetrics run and returns its
// raw JSON output. The deadline covers the sampling window plus slack
// for process startup.
func runOnce(ctx context.Context, cfg Config) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Interval+oneShotSlack)
	defer cancel()

	out, err := exec.CommandContext(ctx, cfg.BinPath, cfg.commandArgs(1)...).Output()
	if err != nil {
		return nil, errFactory.Wrap(ErrSpawnFailed, err)
	}

	return out, nil
}
