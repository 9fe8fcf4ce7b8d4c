package sampler

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amcclassics/r8080-meter/internal/monitor"
	"github.com/amcclassics/r8080-meter/internal/usb"
	"github.com/amcclassics/r8080-meter/pkg/protocol"
)

// Connection 采集周期所需的设备生命周期操作
type Connection interface {
	Reset() error
	Close() error
}

// CommandChannel 采集周期所需的命令通道操作
type CommandChannel interface {
	WriteCmd(cmd protocol.Command) error
	ReadData() ([]byte, error)
}

// FailureKind 一次采集周期的失败类别，每种类别都有明确的下游处理方式
type FailureKind string

const (
	FailureReset    FailureKind = "reset"    // 总线复位失败
	FailureStall    FailureKind = "stall"    // 写命令重试后仍 STALL
	FailureTransfer FailureKind = "transfer" // 其他传输错误
	FailureTimeout  FailureKind = "timeout"  // 读响应超时
	FailureParse    FailureKind = "parse"    // 响应帧格式错误
)

// CycleOutcome 单个采集周期的结果：成功得到测量值，或带类别的失败
// 周期内的错误只影响本次采样，绝不终止进程
type CycleOutcome struct {
	Measurement *protocol.Measurement
	Failure     FailureKind
	Err         error
}

// Success 判断周期是否成功
func (o CycleOutcome) Success() bool {
	return o.Measurement != nil
}

// 周期状态机: Idle → Resetting → Writing → Reading → Parsing → {Done|Failed}
type cycleState int

const (
	stateResetting cycleState = iota
	stateWriting
	stateReading
	stateParsing
)

// Cycle 驱动一次完整读数的状态机
// 同一设备同一时刻只允许一个周期在途，设备固件无法复用事务
type Cycle struct {
	conn Connection
	ch   CommandChannel
	log  *logrus.Logger
}

// NewCycle 创建采集周期
func NewCycle(conn Connection, ch CommandChannel, log *logrus.Logger) *Cycle {
	return &Cycle{conn: conn, ch: ch, log: log}
}

// Run 执行一个完整周期: 复位 → 写命令 → 读响应 → 解码
func (c *Cycle) Run() CycleOutcome {
	var raw []byte

	st := stateResetting
	for {
		switch st {
		case stateResetting:
			// 每个周期开头必须复位，否则下一笔事务必然 STALL
			if err := c.conn.Reset(); err != nil {
				return c.fail(FailureReset, err)
			}
			st = stateWriting

		case stateWriting:
			err := c.ch.WriteCmd(protocol.EncodeAcquire())
			if err != nil && usb.IsStall(err) {
				// 已知硬件行为：部分周期写阶段控制头 STALL，重试一次即可
				monitor.StallRetries.Inc()
				c.log.Debugf("写命令 STALL，重试一次: %v", err)
				err = c.ch.WriteCmd(protocol.EncodeAcquire())
				if err != nil && usb.IsStall(err) {
					return c.fail(FailureStall, err)
				}
			}
			if err != nil {
				return c.fail(FailureTransfer, err)
			}
			st = stateReading

		case stateReading:
			var err error
			raw, err = c.ch.ReadData()
			if err != nil {
				if usb.IsTimeout(err) {
					return c.fail(FailureTimeout, err)
				}
				return c.fail(FailureTransfer, err)
			}
			st = stateParsing

		case stateParsing:
			reading, err := protocol.DecodeResponse(raw)
			if err != nil {
				return c.fail(FailureParse, err)
			}
			c.log.Debugf("解码成功: %.1f dB, status=0x%02X, flags=% x",
				reading.DB, reading.Status, reading.Flags)
			return CycleOutcome{
				Measurement: &protocol.Measurement{
					Timestamp: time.Now(),
					DB:        math.Round(reading.DB*10) / 10,
				},
			}
		}
	}
}

func (c *Cycle) fail(kind FailureKind, err error) CycleOutcome {
	return CycleOutcome{Failure: kind, Err: err}
}
