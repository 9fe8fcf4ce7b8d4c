package usb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"

	"github.com/amcclassics/r8080-meter/pkg/protocol"
)

// REED R8080 (Holtek Semiconductor) 设备标识
const (
	DefaultVendorID  = 0x04D9
	DefaultProductID = 0xE000

	epInNumber  = 1 // 中断 IN 端点 0x81
	epOutNumber = 2 // 中断 OUT 端点 0x02
)

// HID SET_REPORT 控制传输参数
const (
	setReportRequestType = 0x21   // 类请求 | 接口 | 主机到设备
	setReportRequest     = 0x09   // SET_REPORT
	setReportValueOutput = 0x0200 // Output 报告
)

const controlTimeout = time.Second

// Config 设备层配置
type Config struct {
	VendorID    uint16
	ProductID   uint16
	ReadTimeout time.Duration
	ResetDelay  time.Duration
}

// Device 持有 R8080 的 USB 句柄
// 进程生命周期内独占设备，同一时刻只允许一笔事务在途
type Device struct {
	cfg Config
	log *logrus.Logger

	ctx     *gousb.Context
	dev     *gousb.Device
	intf    *gousb.Interface
	release func()
	epIn    *gousb.InEndpoint
	epOut   *gousb.OutEndpoint

	closed bool
}

// Open 枚举 USB 总线并打开第一台匹配的 R8080
// 未找到设备、无权限、被占用分别映射为不同的致命错误
func Open(cfg Config, log *logrus.Logger) (*Device, error) {
	if cfg.VendorID == 0 {
		cfg.VendorID = DefaultVendorID
	}
	if cfg.ProductID == 0 {
		cfg.ProductID = DefaultProductID
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.ResetDelay <= 0 {
		cfg.ResetDelay = 600 * time.Millisecond
	}

	d := &Device{
		cfg: cfg,
		log: log,
		ctx: gousb.NewContext(),
	}

	if err := d.open(); err != nil {
		d.ctx.Close()
		return nil, err
	}

	log.Infof("R8080 已连接 (VID=0x%04X, PID=0x%04X)", cfg.VendorID, cfg.ProductID)
	return d, nil
}

// open 打开设备并占用接口，Open 和 Reset 共用
func (d *Device) open() error {
	dev, err := d.ctx.OpenDeviceWithVIDPID(gousb.ID(d.cfg.VendorID), gousb.ID(d.cfg.ProductID))
	if err != nil {
		if errors.Is(err, gousb.ErrorAccess) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return fmt.Errorf("打开设备失败: %w", err)
	}
	if dev == nil {
		return ErrDeviceNotFound
	}

	dev.ControlTimeout = controlTimeout

	// 内核 HID 驱动会先绑定设备，必须先解绑再占用接口
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		return fmt.Errorf("解绑内核驱动失败: %w", err)
	}

	intf, release, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		switch {
		case errors.Is(err, gousb.ErrorBusy):
			return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
		case errors.Is(err, gousb.ErrorAccess):
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return fmt.Errorf("占用接口失败: %w", err)
	}

	epIn, err := intf.InEndpoint(epInNumber)
	if err != nil {
		release()
		dev.Close()
		return fmt.Errorf("解析中断 IN 端点失败: %w", err)
	}
	epOut, err := intf.OutEndpoint(epOutNumber)
	if err != nil {
		release()
		dev.Close()
		return fmt.Errorf("解析中断 OUT 端点失败: %w", err)
	}

	d.dev = dev
	d.intf = intf
	d.release = release
	d.epIn = epIn
	d.epOut = epOut
	return nil
}

// Reset 执行总线复位并重新占用接口
// 设备固件要求每次采集前复位，否则下一笔事务必然 STALL（硬件怪癖，不可省略）
// 复位后旧句柄失效，约 600ms 后设备重新上线
func (d *Device) Reset() error {
	if d.release != nil {
		d.release()
		d.release = nil
		d.intf = nil
	}
	if d.dev != nil {
		// 复位使句柄失效并触发重新枚举，返回错误属于正常现象
		if err := d.dev.Reset(); err != nil {
			d.log.Debugf("总线复位返回: %v", err)
		}
		d.dev.Close()
		d.dev = nil
	}

	time.Sleep(d.cfg.ResetDelay)

	if err := d.open(); err != nil {
		return fmt.Errorf("复位后重新打开设备失败: %w", err)
	}
	return nil
}

// ControlTransfer 发送 8 字节 SET_REPORT 控制头
func (d *Device) ControlTransfer(header []byte) error {
	_, err := d.dev.Control(setReportRequestType, setReportRequest, setReportValueOutput, 0, header)
	if err != nil {
		return classify("control", err)
	}
	return nil
}

// InterruptWrite 向中断 OUT 端点写入数据，超时上限与控制传输一致
func (d *Device) InterruptWrite(p []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	if _, err := d.epOut.WriteContext(ctx, p); err != nil {
		return classify("interrupt-out", err)
	}
	return nil
}

// InterruptRead 从中断 IN 端点读取一帧，超时由调用方给定
func (d *Device) InterruptRead(timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	buf := make([]byte, protocol.ReadBufferSize)
	n, err := d.epIn.ReadContext(ctx, buf)
	if err != nil {
		return nil, classify("interrupt-in", err)
	}
	return buf[:n], nil
}

// ReadTimeout 返回配置的读超时
func (d *Device) ReadTimeout() time.Duration {
	return d.cfg.ReadTimeout
}

// Close 释放接口并关闭句柄，幂等，所有退出路径都必须走到这里
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if d.release != nil {
		d.release()
		d.release = nil
	}
	if d.dev != nil {
		d.dev.Close()
		d.dev = nil
	}
	if d.ctx != nil {
		d.ctx.Close()
		d.ctx = nil
	}

	d.log.Info("R8080 连接已释放")
	return nil
}
