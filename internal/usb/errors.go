package usb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
)

// 致命错误：打开/占用设备阶段出现，直接向调用方传播
var (
	ErrDeviceNotFound   = errors.New("未找到声级计设备")
	ErrPermissionDenied = errors.New("无权访问 USB 设备")
	ErrDeviceBusy       = errors.New("设备被其他进程占用")
)

// TransferError 一次 USB 传输失败
// Stall 为已知硬件怪癖（端点拒绝请求），由采集周期决定是否重试
type TransferError struct {
	Op      string
	Stall   bool
	Timeout bool
	Err     error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("USB 传输失败 [%s]: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// classify 将底层 libusb 错误包装为带类别的传输错误
func classify(op string, err error) *TransferError {
	return &TransferError{
		Op:      op,
		Stall:   errors.Is(err, gousb.ErrorPipe) || errors.Is(err, gousb.TransferStall),
		Timeout: errors.Is(err, gousb.ErrorTimeout) || errors.Is(err, gousb.TransferTimedOut) || errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}

// IsStall 判断错误是否为端点 STALL
func IsStall(err error) bool {
	var te *TransferError
	return errors.As(err, &te) && te.Stall
}

// IsTimeout 判断错误是否为传输超时
func IsTimeout(err error) bool {
	var te *TransferError
	return errors.As(err, &te) && te.Timeout
}
