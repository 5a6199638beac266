// config is the package containing configuration for sbnsisd, shared
// so it can be used by sbnsisd itself as well as other programs e.g.,
// `sbnsisctl add`.
package config

import (
	"fmt"
	"time"
)

const (
	ConfigPath         = "/etc/sbnsis"
	ConfigName         = "sbnsis.yaml"
	ConfigType         = "yaml"
	SISConfigVersion   = "v1"
	EnvPrefix          = "SBNSIS"
	DefaultCutoutSize  = 1024
	DefaultCatalogURL  = "memory://"
	DefaultCacheRoot   = "/tmp/sbnsis-cache"
	DefaultListen      = ":5000"
	DefaultToolTimeout = "2m"
	DefaultSourceRPS   = 20
	DefaultSourceBurst = 10
	DefaultLogFormat   = "fmt"
	DefaultPublicURL   = "http://localhost:5000"
)

type Config struct {
	// This is expected to be present in a config file (and will not
	// correspond to a flag). The value determines how the config file
	// is interpreted: for now, if it is not equal to SISConfigVersion
	// above, it is considered an invalid configuration.
	ConfigVersion string `mapstructure:"sisConfigVersion"`

	LogFormat     string `mapstructure:"logFormat"`
	Listen        string `mapstructure:"listen"`
	ListenMetrics string `mapstructure:"listenMetrics"`
	BaseHref      string `mapstructure:"baseHref"`
	PublicURL     string `mapstructure:"publicURL"`

	Catalog string `mapstructure:"catalog"`

	CacheRoot         string `mapstructure:"cacheRoot"`
	MaximumCutoutSize int    `mapstructure:"maximumCutoutSize"`
	RenderWorkers     int    `mapstructure:"renderWorkers"`
	CutoutTool        string `mapstructure:"cutoutTool"`
	DecompressTool    string `mapstructure:"decompressTool"`
	CutoutToolTimeout string `mapstructure:"cutoutToolTimeout"`

	MemcachedHostname string        `mapstructure:"memcachedHostname"`
	MemcachedPort     int           `mapstructure:"memcachedPort"`
	MemcachedService  string        `mapstructure:"memcachedService"`
	MemcachedTimeout  time.Duration `mapstructure:"memcachedTimeout"`

	MinioEndpoint  string `mapstructure:"minioEndpoint"`
	MinioBucket    string `mapstructure:"minioBucket"`
	MinioAccessKey string `mapstructure:"minioAccessKey"`
	MinioSecretKey string `mapstructure:"minioSecretKey"`
	MinioUseSSL    bool   `mapstructure:"minioUseSSL"`
	MinioPrefix    string `mapstructure:"minioPrefix"`

	SourceRPS     float64  `mapstructure:"sourceRPS"`
	SourceBurst   int      `mapstructure:"sourceBurst"`
	SourceExclude []string `mapstructure:"sourceExclude"`
	S3Region      string   `mapstructure:"s3Region"`
}

func (c Config) IsValid() error {
	if c.ConfigVersion != SISConfigVersion {
		return fmt.Errorf("config file is expected to include `sisConfigVersion: %s` to mark it as an image service config", SISConfigVersion)
	}
	if c.MaximumCutoutSize < 1 {
		return fmt.Errorf("maximumCutoutSize must be at least 1, got %d", c.MaximumCutoutSize)
	}
	if c.MinioEndpoint != "" && c.MinioBucket == "" {
		return fmt.Errorf("minioBucket is required with minioEndpoint")
	}
	return nil
}
