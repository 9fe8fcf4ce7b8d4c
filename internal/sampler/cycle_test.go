package sampler

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amcclassics/r8080-meter/internal/usb"
	"github.com/amcclassics/r8080-meter/pkg/protocol"
)

// fakeConn 记录复位/释放次数
type fakeConn struct {
	mu         sync.Mutex
	resetTimes []time.Time
	resetErr   error
	closeCount int
}

func (c *fakeConn) Reset() error {
	c.mu.Lock()
	c.resetTimes = append(c.resetTimes, time.Now())
	c.mu.Unlock()
	return c.resetErr
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closeCount++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resetTimes)
}

// fakeChannel 按脚本响应 WriteCmd/ReadData
type fakeChannel struct {
	writeErrs  []error // 依次返回，耗尽后返回 nil
	writeCalls int
	readData   []byte
	readErr    error
}

func (ch *fakeChannel) WriteCmd(protocol.Command) error {
	ch.writeCalls++
	if len(ch.writeErrs) > 0 {
		err := ch.writeErrs[0]
		ch.writeErrs = ch.writeErrs[1:]
		return err
	}
	return nil
}

func (ch *fakeChannel) ReadData() ([]byte, error) {
	if ch.readErr != nil {
		return nil, ch.readErr
	}
	return ch.readData, nil
}

func stallErr() error {
	return &usb.TransferError{Op: "control", Stall: true, Err: errors.New("LIBUSB_ERROR_PIPE")}
}

func timeoutErr() error {
	return &usb.TransferError{Op: "interrupt-in", Timeout: true, Err: errors.New("timeout")}
}

func goodResponse(hi, lo byte) []byte {
	return []byte{8, 0x02, 0x00, 0x00, 0x00, 0x00, hi, lo, 0x03}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestCycleSuccess(t *testing.T) {
	conn := &fakeConn{}
	ch := &fakeChannel{readData: goodResponse(0x02, 0x0D)}
	outcome := NewCycle(conn, ch, testLogger()).Run()

	require.True(t, outcome.Success())
	assert.Equal(t, 52.5, outcome.Measurement.DB)
	assert.False(t, outcome.Measurement.Timestamp.IsZero())
	// 周期第一步必须复位
	assert.Equal(t, 1, conn.resets())
	assert.Equal(t, 1, ch.writeCalls)
}

func TestCycleStallRetriedOnce(t *testing.T) {
	conn := &fakeConn{}
	ch := &fakeChannel{
		writeErrs: []error{stallErr()},
		readData:  goodResponse(0x02, 0x0D),
	}
	outcome := NewCycle(conn, ch, testLogger()).Run()

	// 单次 STALL 重试一次即成功，不算失败
	require.True(t, outcome.Success())
	assert.Equal(t, 2, ch.writeCalls)
}

func TestCycleDoubleStallFails(t *testing.T) {
	conn := &fakeConn{}
	ch := &fakeChannel{writeErrs: []error{stallErr(), stallErr()}}
	outcome := NewCycle(conn, ch, testLogger()).Run()

	require.False(t, outcome.Success())
	assert.Equal(t, FailureStall, outcome.Failure)
	// 只重试一次，不会第三次写
	assert.Equal(t, 2, ch.writeCalls)
}

func TestCycleStallThenTransferError(t *testing.T) {
	conn := &fakeConn{}
	ch := &fakeChannel{
		writeErrs: []error{stallErr(), &usb.TransferError{Op: "interrupt-out", Err: errors.New("io")}},
	}
	outcome := NewCycle(conn, ch, testLogger()).Run()

	require.False(t, outcome.Success())
	assert.Equal(t, FailureTransfer, outcome.Failure)
}

func TestCycleWriteTransferErrorNotRetried(t *testing.T) {
	conn := &fakeConn{}
	ch := &fakeChannel{
		writeErrs: []error{&usb.TransferError{Op: "interrupt-out", Err: errors.New("io")}},
	}
	outcome := NewCycle(conn, ch, testLogger()).Run()

	require.False(t, outcome.Success())
	assert.Equal(t, FailureTransfer, outcome.Failure)
	// 非 STALL 错误不重试
	assert.Equal(t, 1, ch.writeCalls)
}

func TestCycleReadTimeout(t *testing.T) {
	conn := &fakeConn{}
	ch := &fakeChannel{readErr: timeoutErr()}
	outcome := NewCycle(conn, ch, testLogger()).Run()

	require.False(t, outcome.Success())
	assert.Equal(t, FailureTimeout, outcome.Failure)
}

func TestCycleParseFailure(t *testing.T) {
	conn := &fakeConn{}
	ch := &fakeChannel{readData: []byte{3, 0xFF, 0x00, 0x03}}
	outcome := NewCycle(conn, ch, testLogger()).Run()

	require.False(t, outcome.Success())
	assert.Equal(t, FailureParse, outcome.Failure)
}

func TestCycleResetFailure(t *testing.T) {
	conn := &fakeConn{resetErr: errors.New("复位失败")}
	ch := &fakeChannel{}
	outcome := NewCycle(conn, ch, testLogger()).Run()

	require.False(t, outcome.Success())
	assert.Equal(t, FailureReset, outcome.Failure)
	// 复位失败后不再碰总线
	assert.Equal(t, 0, ch.writeCalls)
}
