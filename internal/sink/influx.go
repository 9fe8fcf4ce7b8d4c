package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amcclassics/r8080-meter/pkg/protocol"
)

// Influx 把测量值以 InfluxDB line protocol 写到 /write 端点
// 行格式: <measurement>,sensor=<sensor> db=<value> <纳秒时间戳>
type Influx struct {
	url         string
	measurement string
	client      *http.Client
	log         *logrus.Logger
}

// NewInflux 创建 InfluxDB 写入端
func NewInflux(url, measurement string, timeout time.Duration, log *logrus.Logger) *Influx {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Influx{
		url:         url,
		measurement: measurement,
		client:      &http.Client{Timeout: timeout},
		log:         log,
	}
}

// Publish POST 一行 line protocol
func (s *Influx) Publish(ctx context.Context, m *protocol.Measurement) error {
	line := fmt.Sprintf("%s,sensor=%s db=%.1f %d",
		s.measurement, m.Sensor, m.DB, m.Timestamp.UnixNano())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(line))
	if err != nil {
		return fmt.Errorf("构造 InfluxDB 请求失败: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("写入 InfluxDB 失败: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("InfluxDB 返回状态 %d", resp.StatusCode)
	}
	return nil
}

func (s *Influx) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
