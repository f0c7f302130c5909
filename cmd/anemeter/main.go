package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/halvard/anemeter/internal/ane"
	"codeberg.org/halvard/anemeter/internal/config"
	"codeberg.org/halvard/anemeter/internal/logger"
	"codeberg.org/halvard/anemeter/internal/memory"
	"codeberg.org/halvard/anemeter/internal/model"
	"codeberg.org/halvard/anemeter/internal/pid"
	"codeberg.org/halvard/anemeter/internal/sysinfo"
	"codeberg.org/halvard/anemeter/internal/telemetry"
)

var (
	cfg        *config.Config
	collector  *ane.Collector
	memSampler *memory.Sampler
	store      telemetry.Collector
)

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	collector, err = ane.New(ane.Config{
		Interval:   time.Duration(cfg.Interval) * time.Millisecond,
		MaxPowerMW: cfg.MaxANEPower,
		BinPath:    cfg.Powermetrics,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize collector")
	}

	memSampler = memory.NewSampler()
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	logSystemInfo()

	tcfg := telemetry.DefaultConfig()
	tcfg.DBPath = cfg.TelemetryDB
	tcfg.Enabled = cfg.Telemetry

	var err error
	store, err = telemetry.NewService(tcfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if cfg.Once {
		sampleOnce(ctx)
		cleanup()
		return
	}

	if err := loop(ctx); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
	}
	cleanup()
}

func loop(ctx context.Context) error {
	if cfg.Monitor {
		logger.Info().Msg("Monitor mode activated. Logging ANE status...")
	}

	err := collector.StartStreaming(func(power model.PowerSample, cluster model.ClusterSample) {
		if ctx.Err() != nil {
			return
		}

		snapshot := buildSnapshot(ctx, power, cluster)
		if err := store.Record(ctx, snapshot); err != nil {
			logger.Error().Err(err).Msg("failed to record sample")
		}
		logSnapshot(snapshot)
	})
	if err != nil {
		return err
	}

	<-ctx.Done()

	return nil
}

// sampleOnce takes a single powermetrics window and reports it. A nil
// sample means the window passed without measurable ANE activity.
func sampleOnce(ctx context.Context) {
	sample, err := collector.Sample(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to sample")
		return
	}

	if sample == nil {
		logger.Info().Msg("No ANE activity measured")
		return
	}

	cluster := collector.LastClusterSample()
	snapshot := buildSnapshot(ctx, *sample, *cluster)
	if err := store.Record(ctx, snapshot); err != nil {
		logger.Error().Err(err).Msg("failed to record sample")
	}
	logSnapshot(snapshot)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup() {
	collector.StopStreaming()
	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close telemetry")
	}
	logger.Info().Msg("Exiting...")
}

func buildSnapshot(ctx context.Context, power model.PowerSample, cluster model.ClusterSample) *model.Snapshot {
	snapshot := &model.Snapshot{
		ANE:       &power,
		CPU:       &cluster,
		Timestamp: power.Timestamp,
	}

	if mem, err := memSampler.Sample(ctx); err != nil {
		logger.Debug().Err(err).Msg("failed to sample memory")
	} else {
		snapshot.Memory = &mem
	}

	return snapshot
}

func logSystemInfo() {
	info := sysinfo.Detect()
	if info.ChipName == "" {
		logger.Debug().Msg("Hardware detection unavailable")
		return
	}

	logger.Info().
		Str("chip", info.ChipName).
		Int("cpu_cores", info.CPUCores).
		Int("e_cores", info.ECores).
		Int("p_cores", info.PCores).
		Int("ane_cores", info.ANECores).
		Uint64("memory_total", info.MemoryTotal).
		Float64("max_ane_power_mw", info.MaxANEPowerMW).
		Msg("Hardware detected")
}

func logSnapshot(snapshot *model.Snapshot) {
	memoryUsed := 0.0
	if snapshot.Memory != nil {
		memoryUsed = snapshot.Memory.UsagePercent()
	}

	if cfg.Monitor || cfg.Once {
		logger.Info().
			Float64("ane_power_mw", snapshot.ANE.PowerMW).
			Float64("ane_utilization", snapshot.ANE.EstimatedUtilization).
			Float64("e_cluster_active", snapshot.CPU.EClusterActive).
			Float64("p_cluster_active", snapshot.CPU.PClusterActive).
			Int("e_cluster_freq_mhz", snapshot.CPU.EClusterFreqMHz).
			Int("p_cluster_freq_mhz", snapshot.CPU.PClusterFreqMHz).
			Float64("cpu_power_mw", snapshot.CPU.CPUPowerMW).
			Float64("memory_used_percent", memoryUsed).
			Msg("")
	} else {
		logger.Debug().
			Float64("ane_power_mw", snapshot.ANE.PowerMW).
			Float64("ane_energy_mj", snapshot.ANE.EnergyMJ).
			Float64("ane_utilization", snapshot.ANE.EstimatedUtilization).
			Float64("e_cluster_active", snapshot.CPU.EClusterActive).
			Float64("p_cluster_active", snapshot.CPU.PClusterActive).
			Int("e_cluster_freq_mhz", snapshot.CPU.EClusterFreqMHz).
			Int("p_cluster_freq_mhz", snapshot.CPU.PClusterFreqMHz).
			Float64("cpu_power_mw", snapshot.CPU.CPUPowerMW).
			Float64("memory_used_percent", memoryUsed).
			Msg("")
	}
}
