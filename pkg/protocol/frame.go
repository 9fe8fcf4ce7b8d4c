package protocol

import "fmt"

// Command R8080 命令帧: [STX, 操作码, D1..D4, ETX]
type Command [CommandSize]byte

// NewCommand 构造命令帧
func NewCommand(opcode, d1, d2, d3, d4 byte) Command {
	return Command{STX, opcode, d1, d2, d3, d4, ETX}
}

// EncodeAcquire 构造读取当前声级的命令帧
func EncodeAcquire() Command {
	return NewCommand(CmdAcquire, 0, 0, 0, 0)
}

// Bytes 返回帧的字节表示
func (c Command) Bytes() []byte {
	b := make([]byte, CommandSize)
	copy(b, c[:])
	return b
}

// WriteHeader 构造写阶段的 SET_REPORT 控制头: [0x43, 0x01, lenLo, lenHi, 0, 0, 0, 0]
func WriteHeader(length int) []byte {
	return header(HeaderPhaseWrite, length)
}

// ReadHeader 构造读阶段的 SET_REPORT 控制头: [0x43, 0x04, lenLo, lenHi, 0, 0, 0, 0]
func ReadHeader(length int) []byte {
	return header(HeaderPhaseRead, length)
}

func header(phase byte, length int) []byte {
	return []byte{
		HeaderReportID,
		phase,
		byte(length & 0xFF),
		byte((length >> 8) & 0xFF),
		0, 0, 0, 0,
	}
}

// DecodeResponse 解码中断读返回的原始数据
// 布局: [count][STX, status, flag, flag, flag, dB_hi, dB_lo, ETX]
// dB = (dB_hi*256 + dB_lo) / 10.0
func DecodeResponse(raw []byte) (Reading, error) {
	if len(raw) < 1 {
		return Reading{}, fmt.Errorf("响应为空")
	}

	count := int(raw[0])
	if count > len(raw)-1 {
		return Reading{}, fmt.Errorf("长度前缀越界: count=%d, 实际=%d 字节", count, len(raw)-1)
	}

	payload := raw[1 : 1+count]
	if len(payload) < MinResponseSize {
		return Reading{}, fmt.Errorf("响应长度不足: %d 字节", len(payload))
	}
	if payload[0] != STX {
		return Reading{}, fmt.Errorf("帧起始错误: 0x%02X", payload[0])
	}
	if payload[len(payload)-1] != ETX {
		return Reading{}, fmt.Errorf("帧结束错误: 0x%02X", payload[len(payload)-1])
	}

	return Reading{
		DB:     float64(int(payload[5])*256+int(payload[6])) / 10.0,
		Status: payload[1],
		Flags:  append([]byte(nil), payload[2:5]...),
	}, nil
}
