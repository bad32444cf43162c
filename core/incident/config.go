package incident

import "time"

// Config configures the escalator. An empty AdminEmail disables alerting;
// incidents are still recorded.
type Config struct {
	AdminEmail      string        `env:"ADMIN_ALERT_EMAIL"`
	QueueSize       int           `env:"ALERT_QUEUE_SIZE" envDefault:"100"`
	SendTimeout     time.Duration `env:"ALERT_SEND_TIMEOUT" envDefault:"10s"`
	PerMinute       int           `env:"ALERT_RATE_PER_MINUTE" envDefault:"10"`
	Burst           int           `env:"ALERT_BURST" envDefault:"5"`
	ShutdownTimeout time.Duration `env:"ALERT_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// FromConfig converts cfg into escalator options.
func FromConfig(cfg Config) []Option {
	opts := []Option{
		WithQueueSize(cfg.QueueSize),
		WithSendTimeout(cfg.SendTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}
	if cfg.PerMinute > 0 {
		opts = append(opts, WithAlertRate(time.Minute/time.Duration(cfg.PerMinute), cfg.Burst))
	}
	return opts
}
