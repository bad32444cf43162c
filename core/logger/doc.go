// Package logger is a leveled, structured audit logger with size-based file
// rotation and critical-incident escalation.
//
// Every entry is one JSON line in {dir}/{channel}-{YYYY-MM-DD}.log:
//
//	{"timestamp":"…","level":"WARNING","channel":"security","message":"csrf validation failed",
//	 "context":{"action":"transfer"},"extra":{"process_id":4242,"request_id":"…","client_ip":"…"}}
//
// Levels are DEBUG, INFO, NOTICE, WARNING, ERROR, CRITICAL, ALERT and
// EMERGENCY. Entries below the configured minimum are dropped. Request
// metadata placed in the context by core/requestctx is copied into extra.
//
// When the active file grows past the size limit it becomes slot .1, older
// slots shift up by one, and slots beyond the retention limit are deleted.
// Appends and rotation are serialized per file. If the file cannot be written
// the record goes to a fallback writer (stderr by default); Log never returns
// an error.
//
// Entries at CRITICAL and above are passed to the configured Escalator after
// they are written. An escalation failure is recorded at ERROR on the system
// channel and does not escalate again.
//
//	log, err := logger.New("/var/log/app", "security",
//		logger.WithMinLevel(logger.LevelInfo),
//		logger.WithMaxFileSize(10<<20),
//		logger.WithMaxFiles(5),
//	)
//	log.Warning(ctx, "login failed", map[string]any{"user": name})
//
//	entries, err := log.Search(ctx, "security", logger.Query{Text: "login", MinLevel: logger.LevelWarning})
//
// Handler adapts the logger to log/slog so existing slog call sites write into
// the same files. The attribute helpers in attr.go are meant for such call sites.
package logger
