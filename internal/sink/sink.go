package sink

import (
	"context"

	"github.com/amcclassics/r8080-meter/pkg/protocol"
)

// Sink 测量值的下游消费端（终端显示、持久化通道等）
type Sink interface {
	Publish(ctx context.Context, m *protocol.Measurement) error
	Close() error
}
