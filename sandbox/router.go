package sandbox

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"payments-e2e/monitoring"
)

// NewRouter wires the sandbox routes.
func NewRouter(serviceName string, h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// OpenTelemetry middleware
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMetricsMiddleware())

	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	tx := r.Group("/transactions", h.RequireAPIKey())
	tx.POST("", h.CreateTransaction)
	tx.GET("", h.ListTransactions)
	tx.GET("/:id", h.GetTransaction)

	return r
}

// httpMetricsMiddleware records the duration of every sandbox request.
// Requests that match no route are grouped under "unmatched".
func httpMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		monitoring.HTTPServerDuration.Record(c.Request.Context(), float64(time.Since(start).Microseconds())/1000,
			metric.WithAttributes(
				attribute.String("http_method", c.Request.Method),
				attribute.String("http_route", route),
				attribute.String("http_status_code", strconv.Itoa(c.Writer.Status())),
			),
		)
	}
}
