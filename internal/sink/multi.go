package sink

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/amcclassics/r8080-meter/pkg/protocol"
)

// Multi 把测量值分发给多个后端
// 单个后端写入失败只记日志，不影响其他后端，也不中断采集循环
type Multi struct {
	sinks []Sink
	log   *logrus.Logger
}

// NewMulti 创建分发端，后端列表可以为空（等价于丢弃）
func NewMulti(log *logrus.Logger, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, log: log}
}

// Publish 依次写入所有后端
func (m *Multi) Publish(ctx context.Context, msm *protocol.Measurement) error {
	for _, s := range m.sinks {
		if err := s.Publish(ctx, msm); err != nil {
			m.log.Warnf("测量值写入后端失败: %v", err)
		}
	}
	return nil
}

// Close 关闭所有后端
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
