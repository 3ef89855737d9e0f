package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// 构造结果
const (
	ModeImages = "images"
	ModePath   = "path"
	ModeFailed = "failed"
)

// Collector Prometheus 指标收集器；nil 接收者上的方法均为空操作
type Collector struct {
	logger   *logrus.Logger
	gatherer prometheus.Gatherer

	// HTTP 请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 构造指标
	constructionsTotal   *prometheus.CounterVec
	constructionDuration *prometheus.HistogramVec
	imagesTotal          prometheus.Counter
	elementsTotal        *prometheus.CounterVec
	liveHandles          prometheus.Gauge
	releasesTotal        prometheus.Counter
}

// NewCollector 创建收集器；reg 为 nil 时注册到默认注册表
func NewCollector(logger *logrus.Logger, namespace string, reg *prometheus.Registry) *Collector {
	if namespace == "" {
		namespace = "dexkit"
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer = reg
		gatherer = reg
	}
	factory := promauto.With(registerer)

	return &Collector{
		logger:   logger,
		gatherer: gatherer,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path"},
		),

		constructionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "constructions_total",
				Help:      "Engine constructions by entry point and outcome",
			},
			[]string{"source", "mode"}, // source: path/loader, mode: images/path/failed
		),
		constructionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "construction_duration_seconds",
				Help:      "Engine construction latency in seconds",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
			},
			[]string{"source"},
		),
		imagesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "in_memory_images_total",
				Help:      "In-memory DEX images collected from class loaders",
			},
		),
		elementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loader_elements_total",
				Help:      "Class loader path elements visited, by outcome",
			},
			[]string{"outcome"}, // visited, skipped, sentinel, tainted
		),
		liveHandles: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_handles",
				Help:      "Engine handles not yet released",
			},
		),
		releasesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "releases_total",
				Help:      "Engine handles released",
			},
		),
	}
}

// RecordConstruction 记录一次构造
func (c *Collector) RecordConstruction(source, mode string, duration time.Duration) {
	if c == nil {
		return
	}
	c.constructionsTotal.WithLabelValues(source, mode).Inc()
	c.constructionDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordWalk 记录一次类加载器遍历
func (c *Collector) RecordWalk(elements, skipped, sentinel, tainted, images int) {
	if c == nil {
		return
	}
	c.elementsTotal.WithLabelValues("visited").Add(float64(elements))
	c.elementsTotal.WithLabelValues("skipped").Add(float64(skipped))
	c.elementsTotal.WithLabelValues("sentinel").Add(float64(sentinel))
	c.elementsTotal.WithLabelValues("tainted").Add(float64(tainted))
	c.imagesTotal.Add(float64(images))
}

// SetLiveHandles 更新存活句柄数
func (c *Collector) SetLiveHandles(n int) {
	if c == nil {
		return
	}
	c.liveHandles.Set(float64(n))
}

// RecordRelease 记录一次释放
func (c *Collector) RecordRelease() {
	if c == nil {
		return
	}
	c.releasesTotal.Inc()
}

// HTTPMiddleware gin 请求指标中间件
func (c *Collector) HTTPMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		path := ctx.FullPath()
		if path == "" {
			path = "unknown"
		}
		status := strconv.Itoa(ctx.Writer.Status())

		c.httpRequestsTotal.WithLabelValues(ctx.Request.Method, path, status).Inc()
		c.httpRequestDuration.WithLabelValues(ctx.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler /metrics 端点
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
