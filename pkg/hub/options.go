package hub

import (
	"log/slog"

	"github.com/opsboard/livehub-go/pkg/log"
	"github.com/opsboard/livehub-go/pkg/statecache"
)

type options struct {
	logger         *slog.Logger
	protocolLogger log.Logger
	cache          *statecache.Cache
	evictOnRemove  bool
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProtocolLogger records subscription transitions and routing errors.
func WithProtocolLogger(l log.Logger) Option {
	return func(o *options) { o.protocolLogger = l }
}

// WithCache uses c instead of a new cache, e.g. one restored from a
// statecache.Store.
func WithCache(c *statecache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithEvictOnRemove drops the cached state of an entity once its last
// listener is gone.
func WithEvictOnRemove() Option {
	return func(o *options) { o.evictOnRemove = true }
}

type subscribeOptions struct {
	onError func(error)
}

// SubscribeOption configures one Subscribe call.
type SubscribeOption func(*subscribeOptions)

// WithErrorHandler receives a final rejection of the entity that happens
// after Subscribe returned, e.g. during resubscription.
func WithErrorHandler(fn func(error)) SubscribeOption {
	return func(o *subscribeOptions) { o.onError = fn }
}
