package playengine

import "log"

var pkgLogger Logger = log.Default()

// Logger is any sink that can receive printf-style diagnostics; it has the
// same shape as internal/logging.Logger so a value set here is also usable
// anywhere an engine.Config.Log is required.
type Logger interface {
	Printf(format string, v ...any)
}

func SetLogger(logger Logger) {
	pkgLogger = logger
}
