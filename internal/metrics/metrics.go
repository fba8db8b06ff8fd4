package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_http_requests_total",
			Help: "Total number of HTTP requests served by the daemon.",
		},
		[]string{"method", "route", "status"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_grpc_server_handled_total",
			Help: "Total number of control API calls handled.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_polls_total",
			Help: "Total number of history polls by result.",
		},
		[]string{"result"},
	)
	pollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatline_poll_duration_seconds",
			Help:    "History poll latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	mergedMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatline_merged_messages_total",
			Help: "Total number of remote messages merged into the local history.",
		},
	)
	outboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_outbound_total",
			Help: "Total number of outbound submissions by kind and result.",
		},
		[]string{"kind", "result"},
	)
	liveSubscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatline_live_subscribers",
			Help: "Number of open streaming subscriptions.",
		},
		[]string{"stream"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		grpcServerHandledTotal,
		pollsTotal,
		pollDuration,
		mergedMessagesTotal,
		outboundTotal,
		liveSubscribers,
	)
}

// HTTPMetricsMiddleware counts requests served by the gin engine.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// GRPCServerMetricsUnaryInterceptor counts unary control API calls by code.
func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, status.Convert(err).Code().String()).Inc()
		return resp, err
	}
}

// GRPCServerMetricsStreamInterceptor tracks open streams and counts them on close.
func GRPCServerMetricsStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		service, method := splitFullMethod(info.FullMethod)
		liveSubscribers.WithLabelValues(method).Inc()
		defer liveSubscribers.WithLabelValues(method).Dec()
		err := handler(srv, ss)
		grpcServerHandledTotal.WithLabelValues(service, method, status.Convert(err).Code().String()).Inc()
		return err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Router returns a gin engine serving /metrics and /healthz.
// health is consulted on every /healthz request; a non-nil error yields 503.
func Router(health func() error) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), HTTPMetricsMiddleware())
	r.GET("/metrics", gin.WrapH(Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		if health != nil {
			if err := health(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// ObservePoll records one history poll.
func ObservePoll(ok bool, elapsed time.Duration, merged int) {
	result := "ok"
	if !ok {
		result = "error"
	}
	pollsTotal.WithLabelValues(result).Inc()
	pollDuration.Observe(elapsed.Seconds())
	mergedMessagesTotal.Add(float64(merged))
}

// IncOutbound counts one outbound submission. kind is "message" or "command".
func IncOutbound(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	outboundTotal.WithLabelValues(kind, result).Inc()
}
