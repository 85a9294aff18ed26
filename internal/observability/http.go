package observability

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// scrapeErrorLogger routes promhttp gathering errors into the service log.
type scrapeErrorLogger struct {
	logger zerolog.Logger
}

func (l scrapeErrorLogger) Println(v ...interface{}) {
	l.logger.Error().Msg(fmt.Sprint(v...))
}

// MetricsHandler exposes the API and pipeline collectors for Prometheus scrapes. A collector that fails
// to gather is logged and skipped instead of failing the whole scrape.
func MetricsHandler(logger zerolog.Logger) fiber.Handler {
	RegisterMetrics()

	handler := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog:          scrapeErrorLogger{logger: logger.With().Str("component", "metrics").Logger()},
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
	return adaptor.HTTPHandler(promhttp.InstrumentMetricHandler(prometheus.DefaultRegisterer, handler))
}
