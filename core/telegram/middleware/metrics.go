package middleware

import (
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/abjtutorial/tutorbot/core/logger"
	"github.com/abjtutorial/tutorbot/core/metrics"
	tghelpers "github.com/abjtutorial/tutorbot/core/telegram/helpers"
)

// UpdateMetrics records one observation per update: its kind, the handler
// that served it and whether the handler failed.
func UpdateMetrics(m *metrics.Metrics) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		if m == nil {
			return next
		}
		return func(c tele.Context) error {
			start := time.Now()
			err := next(c)

			outcome := "ok"
			if err != nil {
				outcome = "fail"
			}
			route := ""
			if ctx, ok := tghelpers.ContextFrom(c); ok {
				route = logger.HandlerFrom(ctx)
			}
			m.ObserveUpdate(UpdateKind(c.Update()), route, outcome, time.Since(start))
			return err
		}
	}
}
