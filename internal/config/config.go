package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Sampler SamplerConfig `yaml:"sampler"`
	Display DisplayConfig `yaml:"display"`
	Influx  InfluxConfig  `yaml:"influx"`
	Redis   RedisConfig   `yaml:"redis"`
	Log     LogConfig     `yaml:"log"`
	Monitor MonitorConfig `yaml:"monitor"`
}

type DeviceConfig struct {
	VendorID    uint16        `yaml:"vendor_id"`
	ProductID   uint16        `yaml:"product_id"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	ResetDelay  time.Duration `yaml:"reset_delay"`
}

type SamplerConfig struct {
	// ThresholdDB 为空或 <= 0 表示所有读数都持久化
	ThresholdDB *float64      `yaml:"threshold_db"`
	MinInterval time.Duration `yaml:"min_interval"`
	Sensor      string        `yaml:"sensor"`
}

type DisplayConfig struct {
	Enabled bool `yaml:"enabled"`
}

type InfluxConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url"`
	Measurement string        `yaml:"measurement"`
	Timeout     time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitorConfig struct {
	Enabled     bool `yaml:"enabled"`
	MetricsPort int  `yaml:"metrics_port"`
}

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &config, nil
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	threshold := 65.0
	return &Config{
		Device: DeviceConfig{
			VendorID:    0x04D9,
			ProductID:   0xE000,
			ReadTimeout: time.Second,
			ResetDelay:  600 * time.Millisecond,
		},
		Sampler: SamplerConfig{
			ThresholdDB: &threshold,
			MinInterval: time.Second,
			Sensor:      "r8080",
		},
		Display: DisplayConfig{
			Enabled: true,
		},
		Influx: InfluxConfig{
			Enabled:     true,
			URL:         "http://localhost:9186/write?db=r8080",
			Measurement: "spl",
			Timeout:     5 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			Channel:  "soundlevel_data",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Monitor: MonitorConfig{
			Enabled:     true,
			MetricsPort: 9090,
		},
	}
}
