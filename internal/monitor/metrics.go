package monitor

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// 采集指标
	ReadingsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "r8080_readings_total",
		Help: "成功采集的读数总数",
	})

	CycleFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "r8080_cycle_failures_total",
			Help: "采集周期失败数（按失败类别）",
		},
		[]string{"kind"},
	)

	StallRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "r8080_stall_retries_total",
		Help: "写命令 STALL 后的重试次数",
	})

	// 测量值指标
	CurrentDB = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "r8080_sound_level_db",
		Help: "最近一次测得的声级 (dB SPL)",
	})

	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "r8080_cycle_duration_seconds",
		Help:    "单个采集周期耗时（含强制复位）",
		Buckets: []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5},
	})

	// 下游分发指标
	PersistedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "r8080_persisted_total",
		Help: "写入持久化通道的测量值数",
	})

	SuppressedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "r8080_suppressed_total",
		Help: "低于阈值被持久化通道忽略的测量值数",
	})

	// Goroutine指标
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "r8080_goroutines",
		Help: "当前Goroutine数量",
	})

	// 内存指标
	MemoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "r8080_memory_usage_bytes",
		Help: "内存使用量",
	})
)

type Monitor struct {
	log *logrus.Logger
}

func NewMonitor(log *logrus.Logger) *Monitor {
	// 注册指标
	prometheus.MustRegister(
		ReadingsTotal,
		CycleFailures,
		StallRetries,
		CurrentDB,
		CycleDuration,
		PersistedTotal,
		SuppressedTotal,
		GoroutineCount,
		MemoryUsage,
	)

	return &Monitor{log: log}
}

// StartMetricsServer 启动Metrics HTTP服务器
func (m *Monitor) StartMetricsServer(port int) {
	http.Handle("/metrics", promhttp.Handler())

	// 健康检查端点
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	m.log.Infof("Metrics服务器启动: %s", addr)

	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			m.log.Errorf("Metrics服务器错误: %v", err)
		}
	}()
}

// StartRuntimeMonitor 启动运行时监控
func (m *Monitor) StartRuntimeMonitor() {
	ticker := time.NewTicker(10 * time.Second)

	go func() {
		for range ticker.C {
			GoroutineCount.Set(float64(runtime.NumGoroutine()))

			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			MemoryUsage.Set(float64(memStats.Alloc))

			m.log.Debugf("Goroutines: %d, 内存: %.2f MB",
				runtime.NumGoroutine(),
				float64(memStats.Alloc)/1024/1024,
			)
		}
	}()
}
