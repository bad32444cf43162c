package logger

// Config holds secure log settings loaded from the environment.
type Config struct {
	Dir         string `env:"LOG_DIR" envDefault:"logs"`
	Channel     string `env:"LOG_CHANNEL" envDefault:"app"`
	MinLevel    Level  `env:"LOG_MIN_LEVEL" envDefault:"INFO"`
	MaxFileSize int64  `env:"LOG_MAX_FILE_SIZE" envDefault:"10485760"`
	MaxFiles    int    `env:"LOG_MAX_FILES" envDefault:"5"`
}
