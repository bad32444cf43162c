package csrf

import "time"

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = time.Hour

// Config holds CSRF settings loaded from the environment.
type Config struct {
	TTL           time.Duration `env:"CSRF_TTL" envDefault:"1h"`
	SweepInterval time.Duration `env:"CSRF_SWEEP_INTERVAL" envDefault:"10m"`
	HeaderName    string        `env:"CSRF_HEADER" envDefault:"X-CSRF-Token"`
	FormField     string        `env:"CSRF_FORM_FIELD" envDefault:"csrf_token"`
}
