package sink

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/amcclassics/r8080-meter/pkg/protocol"
)

// 柱状条基线：30 dB 以下不画
const barBaseDB = 30

// Display 把测量值渲染到终端，一行一条，带简易柱状条
type Display struct {
	out io.Writer
}

// NewDisplay 创建终端显示
func NewDisplay(out io.Writer) *Display {
	return &Display{out: out}
}

// Publish 输出一行: 时间 声级 柱状条 序号
func (d *Display) Publish(_ context.Context, m *protocol.Measurement) error {
	bar := strings.Repeat("#", barLength(m.DB))
	_, err := fmt.Fprintf(d.out, "  %s  %5.1f dB  %s  [#%d]\n",
		m.Timestamp.Format("15:04:05"), m.DB, bar, m.Sequence)
	return err
}

func (d *Display) Close() error {
	return nil
}

func barLength(db float64) int {
	n := int(db) - barBaseDB
	if n < 0 {
		return 0
	}
	return n
}
