package entrypoint

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// rateLimitedLogger emits at most one warning per interval. Signal delivery
// races are expected under load and must not flood the log.
type rateLimitedLogger struct {
	log   *logrus.Entry
	limit *rate.Limiter
}

func newRateLimitedLogger(log *logrus.Entry, every time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{
		log:   log,
		limit: rate.NewLimiter(rate.Every(every), 1),
	}
}

func (r *rateLimitedLogger) Warnf(format string, v ...interface{}) {
	if r.limit.Allow() {
		r.log.Warnf(format, v...)
	}
}
