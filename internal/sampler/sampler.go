package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amcclassics/r8080-meter/internal/monitor"
	"github.com/amcclassics/r8080-meter/internal/sink"
)

// Config 采样循环配置
type Config struct {
	// ThresholdDB 为空表示不过滤，所有成功读数都进持久化通道
	ThresholdDB *float64
	// MinInterval 相邻两个周期起点之间的最小间隔
	MinInterval time.Duration
	// Sensor 写入测量值的传感器标签
	Sensor string
}

// Sampler 无限驱动采集周期，按阈值分发测量值
// 显示通道收到全部成功读数，持久化通道只收到达到阈值的读数
type Sampler struct {
	cfg     Config
	conn    Connection
	cycle   *Cycle
	display sink.Sink
	persist sink.Sink
	log     *logrus.Logger

	closeOnce sync.Once

	seq        uint64
	persisted  uint64
	suppressed uint64
	failed     uint64
}

// New 创建采样器
func New(cfg Config, conn Connection, cycle *Cycle, display, persist sink.Sink, log *logrus.Logger) *Sampler {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	return &Sampler{
		cfg:     cfg,
		conn:    conn,
		cycle:   cycle,
		display: display,
		persist: persist,
		log:     log,
	}
}

// Run 采样主循环，ctx 取消时干净退出
// 周期 N+1 一定在周期 N 终态之后、且距离 N 的起点至少 MinInterval 才开始
func (s *Sampler) Run(ctx context.Context) error {
	// 设备句柄在所有退出路径上都恰好释放一次
	defer s.close()

	if s.cfg.ThresholdDB != nil {
		s.log.Infof("阈值过滤: 只持久化 >= %.1f dB 的读数", *s.cfg.ThresholdDB)
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info("收到取消信号，停止采样")
			return nil
		default:
		}

		cycleStart := time.Now()
		outcome := s.cycle.Run()
		monitor.CycleDuration.Observe(time.Since(cycleStart).Seconds())

		if outcome.Success() {
			s.dispatch(ctx, outcome)
		} else {
			// 周期内失败只丢掉本次采样，循环继续
			s.failed++
			monitor.CycleFailures.WithLabelValues(string(outcome.Failure)).Inc()
			s.log.Warnf("采集周期失败 [%s]: %v", outcome.Failure, outcome.Err)
		}

		if !s.waitInterval(ctx, cycleStart) {
			s.log.Info("收到取消信号，停止采样")
			return nil
		}
	}
}

// dispatch 编号并分发一条成功的测量值
func (s *Sampler) dispatch(ctx context.Context, outcome CycleOutcome) {
	m := outcome.Measurement
	s.seq++
	m.Sequence = s.seq
	m.Sensor = s.cfg.Sensor

	monitor.ReadingsTotal.Inc()
	monitor.CurrentDB.Set(m.DB)

	// 显示通道收到全部读数
	if err := s.display.Publish(ctx, m); err != nil {
		s.log.Warnf("显示输出失败: %v", err)
	}

	if s.cfg.ThresholdDB != nil && m.DB < *s.cfg.ThresholdDB {
		s.suppressed++
		monitor.SuppressedTotal.Inc()
		s.log.Debugf("低于阈值，跳过持久化: %.1f dB", m.DB)
		return
	}

	if err := s.persist.Publish(ctx, m); err != nil {
		s.log.Warnf("持久化写入失败: %v", err)
		return
	}
	s.persisted++
	monitor.PersistedTotal.Inc()
}

// waitInterval 等到距周期起点至少 MinInterval，取消时返回 false
func (s *Sampler) waitInterval(ctx context.Context, cycleStart time.Time) bool {
	remain := s.cfg.MinInterval - time.Since(cycleStart)
	if remain <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(remain)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Sampler) close() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			s.log.Errorf("释放设备失败: %v", err)
		}
		s.log.Infof("采样结束: 持久化 %d 条, 低于阈值 %d 条, 失败 %d 次",
			s.persisted, s.suppressed, s.failed)
	})
}
