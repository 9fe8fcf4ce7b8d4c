package sampler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amcclassics/r8080-meter/pkg/protocol"
)

// captureSink 收集发布的测量值
type captureSink struct {
	mu  sync.Mutex
	got []protocol.Measurement
}

func (s *captureSink) Publish(_ context.Context, m *protocol.Measurement) error {
	s.mu.Lock()
	s.got = append(s.got, *m)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func (s *captureSink) values() []protocol.Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Measurement(nil), s.got...)
}

// seqChannel 循环返回脚本化的响应帧
type seqChannel struct {
	mu        sync.Mutex
	responses [][]byte
	i         int
}

func (ch *seqChannel) WriteCmd(protocol.Command) error { return nil }

func (ch *seqChannel) ReadData() ([]byte, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	r := ch.responses[ch.i%len(ch.responses)]
	ch.i++
	return r, nil
}

func startSampler(t *testing.T, cfg Config, conn *fakeConn, ch CommandChannel, display, persist *captureSink) (cancel func(), done chan error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	log := testLogger()
	s := New(cfg, conn, NewCycle(conn, ch, log), display, persist, log)

	done = make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return stop, done
}

func waitDone(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("采样循环未在超时前退出")
	}
}

func TestThresholdRouting(t *testing.T) {
	threshold := 65.0
	conn := &fakeConn{}
	ch := &seqChannel{responses: [][]byte{
		goodResponse(0x02, 0x0B), // 52.3 dB
		goodResponse(0x02, 0xBD), // 70.1 dB
	}}
	display, persist := &captureSink{}, &captureSink{}

	cancel, done := startSampler(t, Config{
		ThresholdDB: &threshold,
		MinInterval: time.Millisecond,
		Sensor:      "r8080",
	}, conn, ch, display, persist)

	require.Eventually(t, func() bool { return display.count() >= 2 },
		2*time.Second, time.Millisecond)
	cancel()
	waitDone(t, done)

	// 显示通道收到全部读数
	got := display.values()
	assert.Equal(t, 52.3, got[0].DB)
	assert.Equal(t, 70.1, got[1].DB)

	// 持久化通道只收到达到阈值的读数
	for _, m := range persist.values() {
		assert.GreaterOrEqual(t, m.DB, threshold)
	}
	assert.NotZero(t, persist.count())
}

func TestNoThresholdPersistsEverything(t *testing.T) {
	conn := &fakeConn{}
	ch := &seqChannel{responses: [][]byte{goodResponse(0x02, 0x0B)}}
	display, persist := &captureSink{}, &captureSink{}

	cancel, done := startSampler(t, Config{
		MinInterval: time.Millisecond,
	}, conn, ch, display, persist)

	require.Eventually(t, func() bool { return persist.count() >= 3 },
		2*time.Second, time.Millisecond)
	cancel()
	waitDone(t, done)

	// 无阈值时两个通道收到同样多的读数（允许取消瞬间差一条）
	assert.InDelta(t, display.count(), persist.count(), 1)
}

func TestSequenceNumbersMonotonic(t *testing.T) {
	conn := &fakeConn{}
	// 每三个周期夹一个坏帧，失败不占用序号
	ch := &seqChannel{responses: [][]byte{
		goodResponse(0x02, 0x0B),
		{3, 0xFF, 0x00, 0x03},
		goodResponse(0x02, 0xBD),
	}}
	display, persist := &captureSink{}, &captureSink{}

	cancel, done := startSampler(t, Config{
		MinInterval: time.Millisecond,
	}, conn, ch, display, persist)

	require.Eventually(t, func() bool { return display.count() >= 4 },
		2*time.Second, time.Millisecond)
	cancel()
	waitDone(t, done)

	// 序号从 1 起连续递增，失败周期只留下空洞不占号
	for i, m := range display.values() {
		assert.Equal(t, uint64(i+1), m.Sequence)
	}
}

func TestMinIntervalBetweenCycles(t *testing.T) {
	const interval = 20 * time.Millisecond

	conn := &fakeConn{}
	ch := &seqChannel{responses: [][]byte{goodResponse(0x02, 0x0B)}}
	display, persist := &captureSink{}, &captureSink{}

	cancel, done := startSampler(t, Config{
		MinInterval: interval,
	}, conn, ch, display, persist)

	require.Eventually(t, func() bool { return conn.resets() >= 10 },
		5*time.Second, time.Millisecond)
	cancel()
	waitDone(t, done)

	// 复位是每个周期的第一步，相邻复位间隔不得小于最小间隔
	// 留 1ms 余量吸收打点抖动
	conn.mu.Lock()
	times := append([]time.Time(nil), conn.resetTimes...)
	conn.mu.Unlock()
	require.GreaterOrEqual(t, len(times), 10)
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, interval-time.Millisecond,
			"周期 %d 与 %d 间隔 %v", i-1, i, gap)
	}
}

func TestCancellationClosesDeviceOnce(t *testing.T) {
	// 反复启停不应泄漏已占用的接口
	for i := 0; i < 3; i++ {
		conn := &fakeConn{}
		ch := &seqChannel{responses: [][]byte{goodResponse(0x02, 0x0B)}}
		display, persist := &captureSink{}, &captureSink{}

		cancel, done := startSampler(t, Config{
			MinInterval: 5 * time.Millisecond,
		}, conn, ch, display, persist)

		require.Eventually(t, func() bool { return display.count() >= 1 },
			2*time.Second, time.Millisecond)
		cancel()
		waitDone(t, done)

		assert.Equal(t, 1, conn.closeCount, "启停轮次 %d", i)
	}
}
