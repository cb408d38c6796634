package settings

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// consts
const (
	Name = "Parley"
)

// set by -ldflags "-X github.com/liut/parley/pkg/settings.version=..."
var version = "dev"

// Config ...
type Config struct {
	Name    string `ignored:"true"`
	Version string `ignored:"true"`

	Develop    bool   `envconfig:"DEVELOP"`
	HTTPListen string `envconfig:"HTTP_LISTEN" default:":5001"`

	// object store, the AWS_* names are read unprefixed as well
	AwsAccessKey  string        `envconfig:"AWS_ACCESS_KEY"`
	AwsSecretKey  string        `envconfig:"AWS_SECRET_KEY"`
	S3Bucket      string        `envconfig:"S3_BUCKET" default:"chatbot-storage-2025-01-17"`
	S3Region      string        `envconfig:"S3_REGION" default:"eu-north-1"`
	S3Endpoint    string        `envconfig:"S3_ENDPOINT"` // S3 兼容存储, 为空走 AWS
	UploadTimeout time.Duration `envconfig:"UPLOAD_TIMEOUT" default:"30s"`
	MaxUploadMB   int64         `envconfig:"MAX_UPLOAD_MB" default:"20"`

	APITimeout    time.Duration `envconfig:"API_TIMEOUT" default:"10s"`
	DefaultAPIURL string        `envconfig:"DEFAULT_API_URL"` // prefill only, never persisted

	SessionIdle time.Duration `envconfig:"SESSION_IDLE" default:"24h"`
	CookieName  string        `envconfig:"Cookie_Name" default:"parley_sid"`
	CookiePath  string        `envconfig:"Cookie_Path" default:"/"`

	RateLimit string `envconfig:"RATE_LIMIT" default:"30-M"` // limiter formatted rate, empty disables
	RedisURI  string `envconfig:"redis_uri"`                 // optional, shared limiter store

	PresetFile string `envconfig:"preset_file"`
}

var (
	// Current 当前配置
	Current = new(Config)
)

func init() {
	if err := envconfig.Process(Name, Current); err != nil {
		log.Printf("envconfig process fail: %s", err)
	}

	Current.Name = Name
	Current.Version = version
}

// Usage 打印配置帮助
func Usage() error {
	log.Printf("ver: %s", Current.Version)
	return envconfig.Usage(Current.Name, Current)
}

// InDevelop ...
func InDevelop() bool {
	return Current.Develop
}

// MaxUploadBytes ...
func MaxUploadBytes() int64 {
	if Current.MaxUploadMB <= 0 {
		return 20 << 20
	}
	return Current.MaxUploadMB << 20
}
