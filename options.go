package meshcore

import (
	"time"

	"meshcore/crypto"
	"meshcore/delivery"
	"meshcore/session"
)

// Default engine intervals.
const (
	// DefaultHandshakeTimeout is how long a partial handshake may sit
	// without progress before the sweep discards it.
	DefaultHandshakeTimeout = 30 * time.Second
	// DefaultDeliveryInterval is how often the delivery queue ticks.
	DefaultDeliveryInterval = 1 * time.Second
	// DefaultMaintenanceInterval is how often expired sessions, stale
	// reputation records, and abandoned handshakes are swept.
	DefaultMaintenanceInterval = 1 * time.Minute
)

// Options configures a Mesh engine.
type Options struct {
	// HandshakeTimeout bounds how long a partial handshake survives.
	HandshakeTimeout time.Duration

	// DeliveryInterval is the queue tick period.
	DeliveryInterval time.Duration

	// MaintenanceInterval is the cleanup sweep period.
	MaintenanceInterval time.Duration

	// Session configures session lifetimes.
	Session session.Config

	// Queue configures the store-and-forward queue.
	Queue delivery.Config

	// TimeProvider injects a clock for testing. Nil means wall clock.
	TimeProvider crypto.TimeProvider
}

// DefaultOptions returns the standard engine configuration.
func DefaultOptions() *Options {
	return &Options{
		HandshakeTimeout:    DefaultHandshakeTimeout,
		DeliveryInterval:    DefaultDeliveryInterval,
		MaintenanceInterval: DefaultMaintenanceInterval,
		Session:             session.DefaultConfig(),
		Queue:               delivery.DefaultConfig(),
	}
}

// normalize fills zero fields with defaults.
func (o *Options) normalize() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.DeliveryInterval <= 0 {
		o.DeliveryInterval = DefaultDeliveryInterval
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if o.TimeProvider == nil {
		o.TimeProvider = crypto.NewDefaultTimeProvider()
	}
}
