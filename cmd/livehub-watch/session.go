package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/opsboard/livehub-go/cmd/livehub-watch/interactive"
	"github.com/opsboard/livehub-go/internal/config"
	"github.com/opsboard/livehub-go/pkg/connection"
	"github.com/opsboard/livehub-go/pkg/hub"
	"github.com/opsboard/livehub-go/pkg/log"
	"github.com/opsboard/livehub-go/pkg/statecache"
	"github.com/opsboard/livehub-go/pkg/transport"
)

// shutdownTimeout bounds the unsubscribe round trips on exit.
const shutdownTimeout = 5 * time.Second

// session owns the hub clients of one livehub-watch run. A hub without a
// URL is left nil.
type session struct {
	logger   *slog.Logger
	devices  *hub.DeviceHub
	machines *hub.MachineHub

	deviceStore  *statecache.Store
	machineStore *statecache.Store
}

func newSession(cfg *config.Config, logger *slog.Logger, plog log.Logger) (*session, error) {
	ws := cfg.WebSocket()
	ws.Logger = logger
	ws.ProtocolLogger = plog
	dialer := transport.NewWebSocketDialer(ws)

	s := &session{logger: logger}
	if cfg.Cache.File != "" {
		s.deviceStore = statecache.NewStore(cachePath(cfg.Cache.File, "devices"))
		s.machineStore = statecache.NewStore(cachePath(cfg.Cache.File, "machines"))
	}

	if url := cfg.Hubs.DeviceURL; url != "" {
		opts, err := s.options(cfg, plog, s.deviceStore)
		if err != nil {
			return nil, err
		}
		devices, err := hub.NewDeviceHub(newManager(cfg, url, dialer, logger, plog), opts...)
		if err != nil {
			return nil, err
		}
		s.devices = devices
	}
	if url := cfg.Hubs.MachineURL; url != "" {
		opts, err := s.options(cfg, plog, s.machineStore)
		if err != nil {
			return nil, err
		}
		machines, err := hub.NewMachineHub(newManager(cfg, url, dialer, logger, plog), opts...)
		if err != nil {
			return nil, err
		}
		s.machines = machines
	}
	if s.devices == nil && s.machines == nil {
		return nil, fmt.Errorf("no hub URL configured")
	}
	return s, nil
}

func newManager(cfg *config.Config, url string, dialer transport.Dialer, logger *slog.Logger, plog log.Logger) *connection.Manager {
	mc := cfg.Manager(url)
	mc.Dialer = dialer
	mc.Logger = logger
	mc.ProtocolLogger = plog
	return connection.NewManager(mc)
}

// options builds the facade options, restoring the cache from store if one
// is configured.
func (s *session) options(cfg *config.Config, plog log.Logger, store *statecache.Store) ([]hub.Option, error) {
	opts := []hub.Option{hub.WithLogger(s.logger), hub.WithProtocolLogger(plog)}
	if cfg.Cache.EvictOnRemove {
		opts = append(opts, hub.WithEvictOnRemove())
	}
	if store == nil {
		return opts, nil
	}

	entries, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load state cache: %w", err)
	}
	cache := statecache.New()
	if n := cache.Restore(entries); n > 0 {
		s.logger.Info("state cache restored", "path", store.Path(), "entries", n)
	}
	return append(opts, hub.WithCache(cache)), nil
}

// watch subscribes to every target and prints updates to out.
func (s *session) watch(ctx context.Context, targets []watchTarget, out io.Writer) error {
	for _, t := range targets {
		var err error
		switch t.Kind {
		case interactive.KindDevice:
			err = watchEntity(ctx, s.devices, t, out, interactive.FormatDevice)
		case interactive.KindMachine:
			err = watchEntity(ctx, s.machines, t, out, interactive.FormatMachine)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func watchEntity[T any](ctx context.Context, c *hub.Client[T], t watchTarget, out io.Writer, format func(T) string) error {
	if c == nil {
		return fmt.Errorf("%s:%s: no %s hub URL configured", t.Kind, t.ID, t.Kind)
	}
	onUpdate := func(u hub.Update[T]) {
		fmt.Fprintf(out, "%s %s %s: %s\n", u.ReceivedAt.Format(time.RFC3339), t.Kind, u.EntityID, format(u.Value))
	}
	onError := func(err error) {
		fmt.Fprintf(out, "%s %s %s: dropped: %v\n", time.Now().Format(time.RFC3339), t.Kind, t.ID, err)
	}

	sub, err := c.Subscribe(ctx, t.ID, onUpdate, hub.WithErrorHandler(onError))
	if sub == nil {
		return fmt.Errorf("subscribe %s:%s: %w", t.Kind, t.ID, err)
	}
	if err != nil {
		fmt.Fprintf(out, "%s %s: subscribe pending: %v\n", t.Kind, t.ID, err)
	}

	// Print what is already known, so slow-changing entities show up.
	if st, err := c.GetState(ctx, t.ID); err == nil && st != nil {
		onUpdate(hub.Update[T]{EntityID: st.EntityID, Value: st.Value, ReceivedAt: st.ReceivedAt})
	}
	return nil
}

// close unsubscribes, saves the caches and tears the connections down.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.devices != nil {
		shutdown(ctx, s.devices, s.deviceStore, s.logger)
	}
	if s.machines != nil {
		shutdown(ctx, s.machines, s.machineStore, s.logger)
	}
}

func shutdown[T any](ctx context.Context, c *hub.Client[T], store *statecache.Store, logger *slog.Logger) {
	for _, id := range c.Entities() {
		if err := c.Unsubscribe(ctx, id, nil); err != nil {
			logger.Debug("unsubscribe on exit failed", "entity_id", id, "error", err)
		}
	}
	if store != nil {
		entries := c.Cache().Snapshot()
		if err := store.Save(entries); err != nil {
			logger.Warn("saving state cache failed", "path", store.Path(), "error", err)
		} else {
			logger.Info("state cache saved", "path", store.Path(), "entries", len(entries))
		}
	}
	if err := c.Stop(ctx); err != nil {
		logger.Debug("stop failed, closing", "error", err)
	}
	if err := c.Close(); err != nil {
		logger.Debug("close failed", "error", err)
	}
}

// cachePath inserts kind before the extension: state.json becomes
// state-devices.json.
func cachePath(file, kind string) string {
	ext := filepath.Ext(file)
	return strings.TrimSuffix(file, ext) + "-" + kind + ext
}
