package protocol

import "time"

// Measurement 一次成功采集得到的声级测量值
type Measurement struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	DB        float64   `json:"db"`
	Sensor    string    `json:"sensor,omitempty"`
}

// Reading 解码后的原始读数
// Status 和 Flags 字节的含义未知（逆向工程未覆盖），仅原样保留用于调试日志
type Reading struct {
	DB     float64
	Status byte
	Flags  []byte
}

// 协议常量（通过逆向 HTUSB.dll 得到）
const (
	// 帧边界
	STX = 0x02
	ETX = 0x03

	// 命令操作码
	CmdAcquire = 0x41 // 'A' 读取当前声级

	// SET_REPORT 控制头
	HeaderReportID   = 0x43
	HeaderPhaseWrite = 0x01
	HeaderPhaseRead  = 0x04
	HeaderSize       = 8

	// 帧长度
	CommandSize     = 7
	MinResponseSize = 7
	ReadBufferSize  = 32
)
