package config

import (
	"os"
	"path/filepath"
	"time"

	commoncfg "github.com/pr-poehali-dev/emergency-visit-tracker/common/config"
)

// ConfigFileEnv 可选的 YAML 配置文件路径；环境变量优先于文件
const ConfigFileEnv = "TRACKER_CONFIG"

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ClientConfig 现场客户端（CLI / agent）配置
type ClientConfig struct {
	Sync struct {
		Endpoint        string        `yaml:"endpoint"`
		SmsEndpoint     string        `yaml:"sms_endpoint"`
		PhotoEndpoint   string        `yaml:"photo_endpoint"`
		Timeout         time.Duration `yaml:"timeout"`
		PaceDelay       time.Duration `yaml:"pace_delay"`
		CheckConnection bool          `yaml:"check_connection"`
	} `yaml:"sync"`
	Store struct {
		Backend    string `yaml:"backend"` // file | redis
		DataDir    string `yaml:"data_dir"`
		QuotaBytes int64  `yaml:"quota_bytes"`
	} `yaml:"store"`
	Redis commoncfg.RedisConfig `yaml:"redis"`
	Media struct {
		Mode          string `yaml:"mode"` // embed | upload
		MaxDimension  int    `yaml:"max_dimension"`
		HeicConverter string `yaml:"heic_converter"`
	} `yaml:"media"`
	Agent struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"agent"`
	MQTT commoncfg.MQTTConfig `yaml:"mqtt"`
	Log  LogConfig            `yaml:"log"`
}

// ServerConfig 同步端点服务配置
type ServerConfig struct {
	HTTP struct {
		Addr         string `yaml:"addr"`
		PublicURL    string `yaml:"public_url"`
		MediaDir     string `yaml:"media_dir"`
		MaxBodyBytes int64  `yaml:"max_body_bytes"`
	} `yaml:"http"`
	DBEnabled bool                     `yaml:"db_enabled"`
	Database  commoncfg.DatabaseConfig `yaml:"database"`
	MQTT      commoncfg.MQTTConfig     `yaml:"mqtt"`
	SMS       struct {
		Org              string `yaml:"org"`
		TwilioAccountSID string `yaml:"twilio_account_sid"`
		TwilioAuthToken  string `yaml:"twilio_auth_token"`
		TwilioFrom       string `yaml:"twilio_from"`
	} `yaml:"sms"`
	Log LogConfig `yaml:"log"`
}

// TwilioEnabled 三项凭据齐全时才走 Twilio
func (c *ServerConfig) TwilioEnabled() bool {
	return c.SMS.TwilioAccountSID != "" && c.SMS.TwilioAuthToken != "" && c.SMS.TwilioFrom != ""
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "visit-tracker")
	}
	return ".visit-tracker"
}

// LoadClient 默认值 → YAML 文件 → 环境变量
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	cfg.Sync.Endpoint = "http://localhost:8080/api/sync"
	cfg.Sync.SmsEndpoint = "http://localhost:8080/api/notify-sms"
	cfg.Sync.PhotoEndpoint = "http://localhost:8080/api/upload-photo"
	cfg.Sync.Timeout = 60 * time.Second
	cfg.Sync.PaceDelay = 100 * time.Millisecond
	cfg.Sync.CheckConnection = true
	cfg.Store.Backend = "file"
	cfg.Store.DataDir = defaultDataDir()
	cfg.Store.QuotaBytes = 5 << 20
	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379"}
	cfg.Media.Mode = "embed"
	cfg.Media.MaxDimension = 1280
	cfg.Media.HeicConverter = "heif-convert"
	cfg.Agent.Schedule = "@every 15m"
	cfg.MQTT = commoncfg.MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "visit-tracker-agent", QoS: 1, Topic: "visit-tracker"}
	cfg.Log = LogConfig{Level: "warn", Format: "console"}

	if err := commoncfg.LoadYAML(os.Getenv(ConfigFileEnv), cfg); err != nil {
		return nil, err
	}

	cfg.Sync.Endpoint = commoncfg.GetEnv("TRACKER_SYNC_URL", cfg.Sync.Endpoint)
	cfg.Sync.SmsEndpoint = commoncfg.GetEnv("TRACKER_SMS_URL", cfg.Sync.SmsEndpoint)
	cfg.Sync.PhotoEndpoint = commoncfg.GetEnv("TRACKER_PHOTO_URL", cfg.Sync.PhotoEndpoint)
	cfg.Sync.Timeout = commoncfg.ParseDuration(os.Getenv("TRACKER_SYNC_TIMEOUT"), cfg.Sync.Timeout)
	cfg.Sync.PaceDelay = commoncfg.ParseDuration(os.Getenv("TRACKER_SYNC_PACE"), cfg.Sync.PaceDelay)
	if v := os.Getenv("TRACKER_SYNC_CHECK_CONNECTION"); v != "" {
		cfg.Sync.CheckConnection = v == "true"
	}
	cfg.Store.Backend = commoncfg.GetEnv("TRACKER_STORE", cfg.Store.Backend)
	cfg.Store.DataDir = commoncfg.GetEnv("TRACKER_DATA_DIR", cfg.Store.DataDir)
	cfg.Store.QuotaBytes = int64(commoncfg.ParseInt(os.Getenv("TRACKER_QUOTA_BYTES"), int(cfg.Store.QuotaBytes)))
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.Media.Mode = commoncfg.GetEnv("TRACKER_MEDIA_MODE", cfg.Media.Mode)
	cfg.Media.MaxDimension = commoncfg.ParseInt(os.Getenv("TRACKER_MEDIA_MAX_DIM"), cfg.Media.MaxDimension)
	cfg.Media.HeicConverter = commoncfg.GetEnv("TRACKER_HEIC_CONVERTER", cfg.Media.HeicConverter)
	cfg.Agent.Schedule = commoncfg.GetEnv("TRACKER_AGENT_SCHEDULE", cfg.Agent.Schedule)
	cfg.MQTT.LoadFromEnv("MQTT")
	cfg.Log.Level = commoncfg.GetEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = commoncfg.GetEnv("LOG_FORMAT", cfg.Log.Format)
	return cfg, nil
}

// LoadServer 默认值 → YAML 文件 → 环境变量
func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{}
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.PublicURL = "http://localhost:8080"
	cfg.HTTP.MediaDir = "./media"
	// 本地开发时 DB 不可用会回退到内存存储
	cfg.DBEnabled = true
	cfg.Database = commoncfg.DatabaseConfig{
		Host: "localhost", Port: 5432, User: "postgres", Password: "postgres",
		Database: "visit_tracker", SSLMode: "disable", MaxConns: 10, MaxIdle: 5,
	}
	cfg.MQTT = commoncfg.MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "visit-tracker-sync", QoS: 1, Topic: "visit-tracker"}
	cfg.Log = LogConfig{Level: "info", Format: "json"}

	if err := commoncfg.LoadYAML(os.Getenv(ConfigFileEnv), cfg); err != nil {
		return nil, err
	}

	cfg.HTTP.Addr = commoncfg.GetEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.PublicURL = commoncfg.GetEnv("PUBLIC_URL", cfg.HTTP.PublicURL)
	cfg.HTTP.MediaDir = commoncfg.GetEnv("MEDIA_DIR", cfg.HTTP.MediaDir)
	cfg.HTTP.MaxBodyBytes = int64(commoncfg.ParseInt(os.Getenv("HTTP_MAX_BODY_BYTES"), int(cfg.HTTP.MaxBodyBytes)))
	if v := os.Getenv("DB_ENABLED"); v != "" {
		cfg.DBEnabled = v == "true"
	}
	cfg.Database.LoadFromEnv("DB")
	cfg.MQTT.LoadFromEnv("MQTT")
	cfg.SMS.Org = commoncfg.GetEnv("SMS_ORG", cfg.SMS.Org)
	cfg.SMS.TwilioAccountSID = commoncfg.GetEnv("TWILIO_ACCOUNT_SID", cfg.SMS.TwilioAccountSID)
	cfg.SMS.TwilioAuthToken = commoncfg.GetEnv("TWILIO_AUTH_TOKEN", cfg.SMS.TwilioAuthToken)
	cfg.SMS.TwilioFrom = commoncfg.GetEnv("TWILIO_FROM_PHONE", cfg.SMS.TwilioFrom)
	cfg.Log.Level = commoncfg.GetEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = commoncfg.GetEnv("LOG_FORMAT", cfg.Log.Format)
	return cfg, nil
}
