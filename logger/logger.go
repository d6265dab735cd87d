package logger

import (
	"github.com/pickme-go/log/v2"
)

// DefaultLogger is used by components constructed without an explicit logger.
var DefaultLogger = log.NewLog(
	log.FileDepth(2),
	log.WithLevel(log.INFO),
	log.WithColors(false),
	log.Prefixed(`mapjoin`),
).Log()

// OrDefault returns l, or DefaultLogger when l is nil.
func OrDefault(l log.Logger) log.Logger {
	if l == nil {
		return DefaultLogger
	}

	return l
}
