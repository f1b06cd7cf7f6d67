package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsboard/livehub-go/internal/config"
	"github.com/opsboard/livehub-go/internal/hubsim"
	"github.com/opsboard/livehub-go/pkg/discovery"
	"github.com/opsboard/livehub-go/pkg/version"
)

func newHubs() (*hubsim.Hub, *hubsim.Hub) {
	devices := hubsim.New(hubsim.Config{Name: "devices", PushStyle: hubsim.PushKeyed})
	machines := hubsim.New(hubsim.Config{Name: "machines", PushStyle: hubsim.PushEmbedded})
	return devices, machines
}

func TestSimulation_MachinesOnlyWhenRequested(t *testing.T) {
	devices, machines := newHubs()
	cfg := config.Default().Sim
	cfg.Devices = 2

	sim := newSimulation(cfg, devices, machines, slog.Default())
	assert.Equal(t, []string{"device-1", "device-2"}, sim.deviceIDs)
	assert.Empty(t, sim.machineIDs)

	cfg.MockMachines = true
	cfg.Machines = 4
	sim = newSimulation(cfg, devices, machines, slog.Default())
	assert.Len(t, sim.machineIDs, 4)
}

func TestSimulation_SeedsStateWithoutSessions(t *testing.T) {
	devices, machines := newHubs()
	cfg := config.Default().Sim
	cfg.Devices = 3
	cfg.MockMachines = true
	cfg.Machines = 2

	sim := newSimulation(cfg, devices, machines, slog.Default())
	sim.tick(context.Background(), time.Now(), false)
	sim.tick(context.Background(), time.Now(), true)

	assert.Zero(t, devices.Sessions())
	assert.Zero(t, machines.Sessions())
	assert.Empty(t, devices.Calls())
}

func TestSimulation_RunStopsWithContext(t *testing.T) {
	devices, machines := newHubs()
	cfg := config.Default().Sim
	cfg.PublishInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		newSimulation(cfg, devices, machines, slog.Default()).run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("simulation did not stop")
	}
}

type fakeAdvertiser struct {
	infos []discovery.HubInfo
	err   error
}

func (f *fakeAdvertiser) Advertise(_ context.Context, info *discovery.HubInfo) error {
	if f.err != nil {
		return f.err
	}
	f.infos = append(f.infos, *info)
	return nil
}

func (f *fakeAdvertiser) Update(*discovery.HubInfo) error { return nil }
func (f *fakeAdvertiser) Stop(string) error { return nil }
func (f *fakeAdvertiser) StopAll() {}

func TestAdvertise(t *testing.T) {
	adv := &fakeAdvertiser{}
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6123}

	require.NoError(t, advertise(context.Background(), adv, "plant-a", addr))
	require.Len(t, adv.infos, 2)

	assert.Equal(t, "plant-a-devices", adv.infos[0].InstanceName)
	assert.Equal(t, discovery.KindDevice, adv.infos[0].Kind)
	assert.Equal(t, hubsim.DevicePath, adv.infos[0].Path)
	assert.Equal(t, "plant-a-machines", adv.infos[1].InstanceName)
	assert.Equal(t, discovery.KindMachine, adv.infos[1].Kind)
	for _, info := range adv.infos {
		assert.Equal(t, uint16(6123), info.Port)
		assert.Equal(t, version.Current, info.Version)
		assert.Equal(t, []string{"json", "cbor"}, info.Codecs)
	}

	adv = &fakeAdvertiser{err: errors.New("no multicast interface")}
	assert.ErrorContains(t, advertise(context.Background(), adv, "plant-a", addr), "plant-a-devices")
}
