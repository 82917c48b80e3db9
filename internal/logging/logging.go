package logging

import (
	"io"
	"strings"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// New returns a JSON kitlog.Logger writing to w, tagged with the service name
// and a UTC timestamp, that drops entries below the requested level.
func New(w io.Writer, service, lvl string) kitlog.Logger {
	logger := kitlog.NewJSONLogger(kitlog.NewSyncWriter(w))
	logger = level.NewFilter(logger, Allow(lvl))
	logger = kitlog.With(logger,
		"service", service,
		"ts", kitlog.DefaultTimestampUTC,
	)

	return logger
}

// Allow maps a textual level onto a level filter option. Unknown values fall
// back to info.
func Allow(lvl string) level.Option {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return level.AllowDebug()
	case "warn", "warning":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}
