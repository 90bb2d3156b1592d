package log

const (
	// LogFormatPlain defines a logging format rendered as human-readable text.
	LogFormatPlain string = "plain"

	// LogFormatText defines a logging format rendered as human-readable text.
	LogFormatText string = "text"

	// LogFormatJSON defines a logging format rendered as structured JSON.
	LogFormatJSON string = "json"

	// Supported loging levels
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Logger defines a generic logging interface over structured key/value pairs.
type Logger interface {
	Debug(msg string, keyVals ...interface{})
	Info(msg string, keyVals ...interface{})
	Error(msg string, keyVals ...interface{})

	With(keyVals ...interface{}) Logger
}
