package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/timxs/storage-toolkit/internal/pkg/database"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
	"github.com/timxs/storage-toolkit/internal/pkg/minio"
	"github.com/timxs/storage-toolkit/internal/pkg/redis"
)

type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Database database.Config `mapstructure:"database"`
	Redis    redis.Config    `mapstructure:"redis"`
	MinIO    minio.Config    `mapstructure:"minio"`
	Log      logger.Config   `mapstructure:"log"`
	Scan     ScanConfig      `mapstructure:"scan"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ScanConfig 扫描相关的启动配置。
// 运行时设置（超时、并发度、类型开关）优先读取系统配置表，
// 这里的值只作为兜底默认值。
type ScanConfig struct {
	// ExternalURL 站点对外地址，用于把相对附件路径还原成完整链接
	ExternalURL string `mapstructure:"external_url"`
	// TimeoutMinutes 扫描状态的陈旧判定阈值（分钟）
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
	// DuplicateConcurrency 重复检测的摘要计算并发度
	DuplicateConcurrency int `mapstructure:"duplicate_concurrency"`
	// DigestTimeout 单个附件摘要计算的超时
	DigestTimeout time.Duration `mapstructure:"digest_timeout"`
	// RecoveryDelay 启动后执行中断扫描恢复前的等待时间
	RecoveryDelay time.Duration `mapstructure:"recovery_delay"`
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8090)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "console")
	viper.SetDefault("log.enablecaller", true)
	viper.SetDefault("log.enablestacktrace", true)

	viper.SetDefault("scan.timeout_minutes", 5)
	viper.SetDefault("scan.duplicate_concurrency", 4)
	viper.SetDefault("scan.digest_timeout", 90*time.Second)
	viper.SetDefault("scan.recovery_delay", 3*time.Second)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if c.Scan.TimeoutMinutes <= 0 {
		return fmt.Errorf("scan timeout_minutes must be greater than 0")
	}
	if c.Scan.DuplicateConcurrency < 1 || c.Scan.DuplicateConcurrency > 10 {
		return fmt.Errorf("scan duplicate_concurrency must be between 1 and 10")
	}
	return nil
}
