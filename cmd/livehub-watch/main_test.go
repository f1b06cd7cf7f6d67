package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opsboard/livehub-go/internal/config"
	"github.com/opsboard/livehub-go/pkg/discovery"
	"github.com/opsboard/livehub-go/pkg/discovery/mocks"
	"github.com/opsboard/livehub-go/pkg/log"
)

func TestParseTargets(t *testing.T) {
	targets, err := parseTargets([]string{"device:press-1", "machine:machine-2"})
	require.NoError(t, err)
	assert.Equal(t, []watchTarget{
		{Kind: "device", ID: "press-1"},
		{Kind: "machine", ID: "machine-2"},
	}, targets)

	for _, bad := range []string{"press-1", "device:", "robot:r1"} {
		_, err := parseTargets([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestCachePath(t *testing.T) {
	assert.Equal(t, "/var/lib/livehub/state-devices.json", cachePath("/var/lib/livehub/state.json", "devices"))
	assert.Equal(t, "cache-machines", cachePath("cache", "machines"))
}

func TestNewSessionRequiresAHub(t *testing.T) {
	cfg := config.Default()
	cfg.Hubs.DeviceURL = ""
	cfg.Hubs.MachineURL = ""

	_, err := newSession(cfg, slog.Default(), log.NoopLogger{})
	assert.Error(t, err)
}

func TestReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.cbor")
	fl, err := log.NewFileLogger(path)
	require.NoError(t, err)

	ts := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	fl.Log(log.Event{
		Timestamp:    ts,
		ConnectionID: "0f5e2a4c-1111-2222-3333-444455556666",
		Layer:        log.LayerClient,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: "CONNECTING",
			NewState: "CONNECTED",
		},
	})
	fl.Log(log.Event{
		Timestamp: ts.Add(time.Second),
		Layer:     log.LayerClient,
		Category:  log.CategoryState,
		EntityID:  "press-1",
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			OldState: "pending",
			NewState: "subscribed",
		},
	})
	require.NoError(t, fl.Close())

	var buf bytes.Buffer
	require.NoError(t, replay(&buf, path, log.Filter{}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "CONNECTING -> CONNECTED")
	assert.Contains(t, lines[0], "[0f5e2a4c]")
	assert.Contains(t, lines[1], "entity=press-1")
	assert.Equal(t, "2 events", lines[2])

	buf.Reset()
	require.NoError(t, replay(&buf, path, log.Filter{EntityID: "press-1"}))
	assert.Contains(t, buf.String(), "1 events")
}

func TestReplayMissingFile(t *testing.T) {
	err := replay(&bytes.Buffer{}, filepath.Join(t.TempDir(), "missing.cbor"), log.Filter{})
	assert.Error(t, err)
}

func TestDiscoverHubsPicksDeployment(t *testing.T) {
	hub := func(name string, kind discovery.HubKind, path string) *discovery.HubService {
		return &discovery.HubService{
			HubInfo:   discovery.HubInfo{InstanceName: name, Kind: kind, Path: path, Port: 5080, Codecs: []string{"json"}},
			Addresses: []string{"10.0.0.7"},
		}
	}
	announced := []*discovery.HubService{
		hub("plant-a-devices", discovery.KindDevice, "/hubs/devices"),
		{HubInfo: discovery.HubInfo{InstanceName: "plant-b-devices", Kind: discovery.KindDevice, Path: "/v2/devices", Codecs: []string{"json"}, Version: "2.0"}},
		hub("plant-b-devices", discovery.KindDevice, "/b/devices"),
		hub("plant-b-machines", discovery.KindMachine, "/b/machines"),
	}

	browser := mocks.NewMockBrowser(t)
	browser.EXPECT().Browse(mock.Anything).RunAndReturn(func(context.Context) (<-chan *discovery.HubService, error) {
		ch := make(chan *discovery.HubService, len(announced))
		for _, s := range announced {
			ch <- s
		}
		close(ch)
		return ch, nil
	}).Times(2)

	cfg := config.Default()
	cfg.Codec = "json"
	cfg.Discovery.Deployment = "plant-b"
	cfg.Discovery.Timeout = time.Second

	discoverHubs(context.Background(), cfg, browser, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, "ws://10.0.0.7:5080/b/devices", cfg.Hubs.DeviceURL)
	assert.Equal(t, "ws://10.0.0.7:5080/b/machines", cfg.Hubs.MachineURL)
}
