package cookie

// Config provides environment-based configuration for the cookie manager.
// Secure, HttpOnly and SameSite=Strict are fixed defaults; options passed to
// NewFromConfig may still override them.
type Config struct {
	Path    string `env:"COOKIE_PATH" envDefault:"/"`
	Domain  string `env:"COOKIE_DOMAIN" envDefault:""`
	MaxSize int    `env:"COOKIE_MAX_SIZE" envDefault:"4096"`
}

// NewFromConfig creates a Manager from configuration.
func NewFromConfig(cfg Config, opts ...Option) *Manager {
	configOpts := make([]Option, 0, 2+len(opts))
	if cfg.Path != "" {
		configOpts = append(configOpts, WithPath(cfg.Path))
	}
	if cfg.Domain != "" {
		configOpts = append(configOpts, WithDomain(cfg.Domain))
	}
	configOpts = append(configOpts, opts...)

	m := New(configOpts...)
	if cfg.MaxSize > 0 {
		m.maxSize = cfg.MaxSize
	}
	return m
}
