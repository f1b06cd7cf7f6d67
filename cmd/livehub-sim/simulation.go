package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/opsboard/livehub-go/internal/config"
	"github.com/opsboard/livehub-go/internal/hubsim"
	"github.com/opsboard/livehub-go/internal/mockdata"
)

// simulation publishes generated states on a fixed interval.
type simulation struct {
	cfg      config.SimConfig
	devices  *hubsim.Hub
	machines *hubsim.Hub
	gen      *mockdata.Generator
	logger   *slog.Logger

	deviceIDs  []string
	machineIDs []string
}

func newSimulation(cfg config.SimConfig, devices, machines *hubsim.Hub, logger *slog.Logger) *simulation {
	s := &simulation{
		cfg:       cfg,
		devices:   devices,
		machines:  machines,
		gen:       mockdata.New(cfg.Seed),
		logger:    logger.With("component", "simulation"),
		deviceIDs: mockdata.DeviceIDs(cfg.Devices),
	}
	if cfg.MockMachines {
		s.machineIDs = mockdata.MachineIDs(cfg.Machines)
	}
	return s
}

func (s *simulation) run(ctx context.Context) {
	if s.cfg.PublishInterval <= 0 {
		s.logger.Info("publishing disabled")
		return
	}
	s.logger.Info("simulation started",
		"devices", len(s.deviceIDs),
		"machines", len(s.machineIDs),
		"interval", s.cfg.PublishInterval,
	)

	// Seed states so GetState answers before the first tick.
	s.tick(ctx, time.Now(), false)

	ticker := time.NewTicker(s.cfg.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now, true)
		}
	}
}

func (s *simulation) tick(ctx context.Context, now time.Time, publish bool) {
	for _, id := range s.deviceIDs {
		state := s.gen.Device(id, now)
		if !publish {
			s.devices.SetState(id, state)
			continue
		}
		n, err := s.devices.Publish(ctx, id, state)
		if err != nil {
			s.logger.Warn("device publish failed", "device_id", id, "error", err)
			continue
		}
		if n > 0 {
			s.logger.Debug("device published", "device_id", id, "state", state.CurrentState, "sessions", n)
		}
	}

	for _, id := range s.machineIDs {
		oee := s.gen.Machine(id, now)
		if !publish {
			s.machines.SetState(id, oee)
			continue
		}
		n, err := s.machines.Publish(ctx, id, oee)
		if err != nil {
			s.logger.Warn("machine publish failed", "machine_id", id, "error", err)
			continue
		}
		if n > 0 {
			s.logger.Debug("machine published", "machine_id", id, "oee", oee.OEE, "sessions", n)
		}
	}
}
