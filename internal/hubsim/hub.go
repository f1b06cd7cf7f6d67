// Package hubsim is a minimal live hub server. It serves the Subscribe,
// Unsubscribe, GetState and GetSubscriberCount methods and pushes
// StateUpdate frames to subscribed sessions.
//
// The same Hub serves real websocket connections (cmd/livehub-sim, end to
// end tests) and in-memory connections (internal/hubtest).
package hubsim

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opsboard/livehub-go/pkg/interaction"
	"github.com/opsboard/livehub-go/pkg/transport"
	"github.com/opsboard/livehub-go/pkg/wire"
)

// PushStyle selects how StateUpdate pushes carry the entity key.
type PushStyle int

const (
	// PushKeyed sends StateUpdate(entityId, payload).
	PushKeyed PushStyle = iota

	// PushEmbedded sends StateUpdate(payload). The key travels inside the
	// payload (machineId).
	PushEmbedded
)

// Config configures a Hub.
type Config struct {
	// Name labels log lines (e.g. "devices").
	Name string

	PushStyle PushStyle

	// Latency delays every completion.
	Latency time.Duration

	Logger *slog.Logger
}

// Invocation is one recorded client call.
type Invocation struct {
	ConnectionID string
	Target       string
	EntityID     string
	At           time.Time
}

type session struct {
	conn transport.Conn
	subs map[string]bool
}

// Hub is a simulated live hub for one entity kind.
type Hub struct {
	config Config
	logger *slog.Logger
	server *interaction.Server

	mu       sync.Mutex
	sessions map[string]*session
	states   map[string]any
	rejects  map[string]*interaction.StatusError
	calls    []Invocation
}

// New creates a hub with no state.
func New(config Config) *Hub {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	h := &Hub{
		config:   config,
		logger:   config.Logger.With("component", "hubsim", "hub", config.Name),
		server:   interaction.NewServer(),
		sessions: make(map[string]*session),
		states:   make(map[string]any),
		rejects:  make(map[string]*interaction.StatusError),
	}

	h.server.Handle(wire.TargetSubscribe, h.recorded(h.handleSubscribe))
	h.server.Handle(wire.TargetUnsubscribe, h.recorded(h.handleUnsubscribe))
	h.server.Handle(wire.TargetGetState, h.recorded(h.handleGetState))
	h.server.Handle(wire.TargetGetSubscriberCount, h.recorded(h.handleGetSubscriberCount))
	return h
}

// Serve handles one client connection until it closes or ctx ends.
func (h *Hub) Serve(ctx context.Context, conn transport.Conn) error {
	h.mu.Lock()
	h.sessions[conn.ID()] = &session{conn: conn, subs: make(map[string]bool)}
	h.mu.Unlock()

	h.logger.Info("session opened", "conn_id", conn.ID(), "codec", conn.Codec().Name())

	defer func() {
		h.mu.Lock()
		delete(h.sessions, conn.ID())
		h.mu.Unlock()
		_ = conn.Close()
		h.logger.Info("session closed", "conn_id", conn.ID())
	}()

	codec := conn.Codec()
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrConnectionClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		f, err := wire.DecodeFrame(codec, data)
		if err != nil {
			h.logger.Warn("dropping undecodable frame", "conn_id", conn.ID(), "error", err)
			continue
		}

		switch f.Type {
		case wire.MessageTypeInvocation:
			reply := h.server.HandleInvocation(ctx, codec, conn.ID(), f)
			if reply == nil {
				continue
			}
			if h.config.Latency > 0 {
				select {
				case <-time.After(h.config.Latency):
				case <-ctx.Done():
					return nil
				}
			}
			out, err := wire.EncodeFrame(codec, reply)
			if err != nil {
				h.logger.Error("encode completion", "error", err)
				continue
			}
			if err := conn.Send(ctx, out); err != nil {
				return err
			}
		case wire.MessageTypeClose:
			return nil
		}
	}
}

// SetState stores a state without pushing it.
func (h *Hub) SetState(entityID string, state any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[entityID] = state
}

// Publish stores state and pushes it to every session subscribed to
// entityID. Returns the number of sessions it was sent to.
func (h *Hub) Publish(ctx context.Context, entityID string, state any) (int, error) {
	h.SetState(entityID, state)
	return h.push(ctx, entityID, state, func(s *session) bool { return s.subs[entityID] })
}

// Broadcast pushes state to every session, subscribed or not. Tests use it
// to model a push that was already in flight when the client unsubscribed.
func (h *Hub) Broadcast(ctx context.Context, entityID string, state any) (int, error) {
	h.SetState(entityID, state)
	return h.push(ctx, entityID, state, func(*session) bool { return true })
}

func (h *Hub) push(ctx context.Context, entityID string, state any, match func(*session) bool) (int, error) {
	h.mu.Lock()
	var conns []transport.Conn
	for _, s := range h.sessions {
		if match(s) {
			conns = append(conns, s.conn)
		}
	}
	h.mu.Unlock()

	var errs []error
	sent := 0
	for _, conn := range conns {
		if err := h.pushTo(ctx, conn, entityID, state); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (h *Hub) pushTo(ctx context.Context, conn transport.Conn, entityID string, state any) error {
	codec := conn.Codec()
	args := []any{entityID, state}
	if h.config.PushStyle == PushEmbedded {
		args = []any{state}
	}
	f, err := wire.NewPush(codec, wire.TargetStateUpdate, args...)
	if err != nil {
		return err
	}
	data, err := wire.EncodeFrame(codec, f)
	if err != nil {
		return err
	}
	return conn.Send(ctx, data)
}

// Reject makes target fail for entityID with the given status until
// ClearRejects is called.
func (h *Hub) Reject(target, entityID string, status wire.Status, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejects[rejectKey(target, entityID)] = &interaction.StatusError{Status: status, Message: message}
}

// ClearRejects removes every rejection rule.
func (h *Hub) ClearRejects() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.rejects)
}

// DropAll closes every session's connection.
func (h *Hub) DropAll() {
	h.mu.Lock()
	conns := make([]transport.Conn, 0, len(h.sessions))
	for _, s := range h.sessions {
		conns = append(conns, s.conn)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// SubscriberCount returns how many sessions are subscribed to entityID.
func (h *Hub) SubscriberCount(entityID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscriberCountLocked(entityID)
}

func (h *Hub) subscriberCountLocked(entityID string) int {
	n := 0
	for _, s := range h.sessions {
		if s.subs[entityID] {
			n++
		}
	}
	return n
}

// Subscriptions returns the subscribed entity IDs across all sessions.
func (h *Hub) Subscriptions() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int)
	for _, s := range h.sessions {
		for id := range s.subs {
			out[id]++
		}
	}
	return out
}

// Calls returns a copy of the recorded invocations.
func (h *Hub) Calls() []Invocation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Invocation(nil), h.calls...)
}

// CallCount counts recorded invocations of target for entityID.
// An empty entityID matches every entity.
func (h *Hub) CallCount(target, entityID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c.Target == target && (entityID == "" || c.EntityID == entityID) {
			n++
		}
	}
	return n
}

// ResetCalls forgets the recorded invocations.
func (h *Hub) ResetCalls() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
}

func (h *Hub) recorded(fn func(*interaction.Call, string) (any, error)) interaction.HandlerFunc {
	return func(_ context.Context, call *interaction.Call) (any, error) {
		id, err := call.StringArg(0)
		if err != nil {
			return nil, err
		}

		h.mu.Lock()
		h.calls = append(h.calls, Invocation{
			ConnectionID: call.ConnectionID,
			Target:       call.Target,
			EntityID:     id,
			At:           time.Now(),
		})
		reject := h.rejects[rejectKey(call.Target, id)]
		h.mu.Unlock()

		if reject != nil {
			return nil, reject
		}
		return fn(call, id)
	}
}

func (h *Hub) handleSubscribe(call *interaction.Call, id string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[call.ConnectionID]; ok {
		s.subs[id] = true
	}
	h.logger.Debug("subscribed", "conn_id", call.ConnectionID, "entity_id", id)
	return nil, nil
}

func (h *Hub) handleUnsubscribe(call *interaction.Call, id string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[call.ConnectionID]; ok {
		delete(s.subs, id)
	}
	h.logger.Debug("unsubscribed", "conn_id", call.ConnectionID, "entity_id", id)
	return nil, nil
}

func (h *Hub) handleGetState(_ *interaction.Call, id string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.states[id], nil
}

func (h *Hub) handleGetSubscriberCount(_ *interaction.Call, id string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscriberCountLocked(id), nil
}

func rejectKey(target, entityID string) string {
	return target + "\x00" + entityID
}
