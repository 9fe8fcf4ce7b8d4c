package usb

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
)

func TestClassifyStall(t *testing.T) {
	assert.True(t, classify("control", gousb.ErrorPipe).Stall)
	assert.True(t, classify("interrupt-out", gousb.TransferStall).Stall)
	assert.False(t, classify("control", gousb.ErrorIO).Stall)
}

func TestClassifyTimeout(t *testing.T) {
	assert.True(t, classify("interrupt-in", gousb.ErrorTimeout).Timeout)
	assert.True(t, classify("interrupt-in", gousb.TransferTimedOut).Timeout)
	assert.True(t, classify("interrupt-in", context.DeadlineExceeded).Timeout)
	assert.False(t, classify("interrupt-in", gousb.ErrorIO).Timeout)
}

func TestIsStallThroughWrapping(t *testing.T) {
	// 上层用 %w 包装后仍可识别
	err := fmt.Errorf("写命令失败: %w", classify("control", gousb.ErrorPipe))
	assert.True(t, IsStall(err))
	assert.False(t, IsTimeout(err))
}

func TestIsStallOnPlainError(t *testing.T) {
	assert.False(t, IsStall(errors.New("plain")))
	assert.False(t, IsTimeout(nil))
}
