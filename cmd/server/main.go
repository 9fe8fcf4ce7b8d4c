package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/amcclassics/r8080-meter/internal/config"
	"github.com/amcclassics/r8080-meter/internal/monitor"
	"github.com/amcclassics/r8080-meter/internal/sampler"
	"github.com/amcclassics/r8080-meter/internal/sink"
	"github.com/amcclassics/r8080-meter/internal/storage"
	"github.com/amcclassics/r8080-meter/internal/usb"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数
	configFile := flag.String("config", "configs/config.yaml", "配置文件路径")
	threshold := flag.Float64("threshold", -1, "持久化阈值 (dB)，覆盖配置文件；0 表示全部持久化")
	showVersion := flag.Bool("version", false, "显示版本信息")
	flag.Parse()

	// 显示版本
	if *showVersion {
		fmt.Printf("R8080 Meter Server v%s (Build: %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// 加载配置
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		cfg = config.GetDefaultConfig()
		fmt.Println("使用默认配置")
	}

	// 命令行阈值覆盖配置文件
	if *threshold >= 0 {
		cfg.Sampler.ThresholdDB = threshold
	}
	// 阈值 <= 0 等价于不过滤
	if cfg.Sampler.ThresholdDB != nil && *cfg.Sampler.ThresholdDB <= 0 {
		cfg.Sampler.ThresholdDB = nil
	}

	// 初始化日志
	log := setupLogger(cfg.Log)
	log.Infof("R8080 Meter Server v%s 启动中...", Version)
	log.Infof("配置文件: %s", *configFile)

	os.Exit(run(cfg, log))
}

// run 打开设备并驱动采样循环，返回进程退出码
func run(cfg *config.Config, log *logrus.Logger) int {
	dev, err := usb.Open(usb.Config{
		VendorID:    cfg.Device.VendorID,
		ProductID:   cfg.Device.ProductID,
		ReadTimeout: cfg.Device.ReadTimeout,
		ResetDelay:  cfg.Device.ResetDelay,
	}, log)
	if err != nil {
		// 致命错误按运维处置方式区分退出码
		switch {
		case errors.Is(err, usb.ErrDeviceNotFound):
			log.Errorf("未找到 R8080 (VID=0x%04X, PID=0x%04X)，请检查设备连接和供电",
				cfg.Device.VendorID, cfg.Device.ProductID)
			return 1
		case errors.Is(err, usb.ErrPermissionDenied), errors.Is(err, usb.ErrDeviceBusy):
			log.Errorf("无法占用设备: %v，请检查 udev 访问规则或其他占用进程", err)
			return 2
		default:
			log.Errorf("打开设备失败: %v", err)
			return 1
		}
	}

	// 启动监控
	if cfg.Monitor.Enabled {
		mon := monitor.NewMonitor(log)
		mon.StartMetricsServer(cfg.Monitor.MetricsPort)
		mon.StartRuntimeMonitor()
	}

	// 组装输出通道
	display, persist, err := buildSinks(cfg, log)
	if err != nil {
		log.Errorf("初始化输出通道失败: %v", err)
		dev.Close()
		return 1
	}
	defer persist.Close()
	defer display.Close()

	s := sampler.New(sampler.Config{
		ThresholdDB: cfg.Sampler.ThresholdDB,
		MinInterval: cfg.Sampler.MinInterval,
		Sensor:      cfg.Sampler.Sensor,
	}, dev, sampler.NewCycle(dev, usb.NewChannel(dev, log), log), display, persist, log)

	// 优雅退出处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx); err != nil {
		log.Errorf("采样循环退出: %v", err)
		return 1
	}

	log.Info("服务已关闭")
	return 0
}

// buildSinks 按配置组装显示通道和持久化通道
func buildSinks(cfg *config.Config, log *logrus.Logger) (display, persist sink.Sink, err error) {
	if cfg.Display.Enabled {
		display = sink.NewDisplay(os.Stdout)
	} else {
		display = sink.NewMulti(log)
	}

	var backends []sink.Sink
	if cfg.Influx.Enabled {
		backends = append(backends, sink.NewInflux(cfg.Influx.URL, cfg.Influx.Measurement, cfg.Influx.Timeout, log))
		log.Infof("InfluxDB 端点: %s", cfg.Influx.URL)
	}
	if cfg.Redis.Enabled {
		mq, qerr := storage.NewMeasurementQueue(
			cfg.Redis.Addr,
			cfg.Redis.Password,
			cfg.Redis.Channel,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			log,
		)
		if qerr != nil {
			return nil, nil, qerr
		}
		backends = append(backends, mq)
	}

	return display, sink.NewMulti(log, backends...), nil
}

func setupLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()

	// 设置日志级别
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// 设置日志格式
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	// 设置输出
	if cfg.Output == "file" && cfg.FilePath != "" {
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.Warnf("打开日志文件失败: %v, 使用标准输出", err)
		}
	}

	return log
}
