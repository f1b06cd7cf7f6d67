package dispatch

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opsboard/livehub-go/pkg/log"
	"github.com/opsboard/livehub-go/pkg/statecache"
	"github.com/opsboard/livehub-go/pkg/subscription"
	"github.com/opsboard/livehub-go/pkg/wire"
)

// ListenerSource returns the listeners for an entity in registration order.
// *subscription.Registry implements it.
type ListenerSource interface {
	Listeners(entityID string) []subscription.Listener
}

// Config configures a Router.
type Config struct {
	// Target is the push method routed. Defaults to wire.TargetStateUpdate.
	Target string

	// Key extracts the entity ID. Defaults to FirstArgument.
	Key KeyFunc

	Cache     *statecache.Cache
	Listeners ListenerSource

	Logger         *slog.Logger
	ProtocolLogger log.Logger

	// Now is used for receive timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Stats counts what a Router has seen.
type Stats struct {
	Pushes      uint64
	Delivered   uint64
	Unroutable  uint64
	NoListeners uint64
	Panics      uint64
}

// Router implements connection.PushHandler for one entity kind.
type Router struct {
	config Config
	logger *slog.Logger

	pushes      atomic.Uint64
	delivered   atomic.Uint64
	unroutable  atomic.Uint64
	noListeners atomic.Uint64
	panics      atomic.Uint64
}

// NewRouter creates a router. Cache and Listeners are required.
func NewRouter(config Config) *Router {
	if config.Target == "" {
		config.Target = wire.TargetStateUpdate
	}
	if config.Key == nil {
		config.Key = FirstArgument
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.ProtocolLogger = log.OrNoop(config.ProtocolLogger)
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Router{
		config: config,
		logger: config.Logger.With("component", "dispatch"),
	}
}

// HandlePush routes one push. The connection read loop calls it for one
// frame at a time, so listeners of an entity see pushes in server order.
func (r *Router) HandlePush(target string, args []wire.Raw, codec wire.Codec) {
	if target != r.config.Target {
		r.logger.Debug("ignoring push", "target", target)
		return
	}
	r.pushes.Add(1)

	entityID, payload, err := r.config.Key(args, codec)
	if err != nil {
		r.unroutable.Add(1)
		r.logger.Warn("dropping unroutable push", "target", target, "error", err)
		r.config.ProtocolLogger.Log(log.Event{
			Timestamp: r.config.Now(),
			Direction: log.DirectionIn,
			Layer:     log.LayerClient,
			Category:  log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerClient,
				Message: err.Error(),
				Context: "route " + target,
			},
		})
		return
	}

	now := r.config.Now()
	r.config.Cache.Put(entityID, payload, codec, now)

	listeners := r.config.Listeners.Listeners(entityID)
	if len(listeners) == 0 {
		r.noListeners.Add(1)
		r.logger.Debug("push without listeners", "entity_id", entityID)
		return
	}

	for _, l := range listeners {
		u := subscription.Update{
			EntityID:   entityID,
			Payload:    payload.Clone(),
			Codec:      codec,
			ReceivedAt: now,
		}
		r.deliver(l, u)
	}
}

// Stats returns the counters.
func (r *Router) Stats() Stats {
	return Stats{
		Pushes:      r.pushes.Load(),
		Delivered:   r.delivered.Load(),
		Unroutable:  r.unroutable.Load(),
		NoListeners: r.noListeners.Load(),
		Panics:      r.panics.Load(),
	}
}

func (r *Router) deliver(l subscription.Listener, u subscription.Update) {
	defer func() {
		if p := recover(); p != nil {
			r.panics.Add(1)
			r.logger.Error("listener panicked", "entity_id", u.EntityID, "panic", p)
		}
	}()
	l.OnUpdate(u)
	r.delivered.Add(1)
}
