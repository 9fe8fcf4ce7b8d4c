package usb

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amcclassics/r8080-meter/pkg/protocol"
)

// 清理残留报告时的单次读超时和上限
const (
	drainTimeout    = 100 * time.Millisecond
	drainMaxReports = 8
)

// transport 通道依赖的传输原语，由 Device 提供
type transport interface {
	ControlTransfer(header []byte) error
	InterruptWrite(p []byte) error
	InterruptRead(timeout time.Duration) ([]byte, error)
	ReadTimeout() time.Duration
}

// Channel 在传输原语之上实现 HTUSB 的两阶段 WriteCmd/ReadData 协议
type Channel struct {
	dev transport
	log *logrus.Logger
}

// NewChannel 创建命令通道
func NewChannel(dev *Device, log *logrus.Logger) *Channel {
	return &Channel{dev: dev, log: log}
}

// WriteCmd 发送一条命令：先发写阶段控制头，再在中断 OUT 上发带长度前缀的命令帧
// 控制头在部分周期上会 STALL，这是已知硬件行为，错误原样上抛由采集周期重试
func (ch *Channel) WriteCmd(cmd protocol.Command) error {
	if err := ch.dev.ControlTransfer(protocol.WriteHeader(protocol.CommandSize)); err != nil {
		return err
	}

	frame := append([]byte{protocol.CommandSize}, cmd.Bytes()...)
	if err := ch.dev.InterruptWrite(frame); err != nil {
		return err
	}

	// 设备偶尔残留上一周期的旧报告，读空为止，错误直接忽略
	ch.drain()
	return nil
}

func (ch *Channel) drain() {
	for i := 0; i < drainMaxReports; i++ {
		stale, err := ch.dev.InterruptRead(drainTimeout)
		if err != nil {
			return
		}
		ch.log.Debugf("丢弃残留报告: % x", stale)
	}
}

// ReadData 读取一帧响应：先发读阶段控制头，再从中断 IN 读取
func (ch *Channel) ReadData() ([]byte, error) {
	if err := ch.dev.ControlTransfer(protocol.ReadHeader(protocol.ReadBufferSize)); err != nil {
		return nil, err
	}
	return ch.dev.InterruptRead(ch.dev.ReadTimeout())
}
