package main

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/small-bodies-node/sbnsis/pkg/config"
)

// defineConfigFlags defines the flags that can also be set in a config
// file or the environment. Each is bound to the config.Config field
// of the same meaning, by way of its mapstructure name.
func defineConfigFlags(fs *pflag.FlagSet, bail func(error)) {

	bind := func(fieldName, flagName string) error {
		configStruct := reflect.TypeOf(config.Config{})
		field, ok := configStruct.FieldByName(fieldName)
		if !ok {
			return fmt.Errorf("attempt to bind a flag to a field not present in config.Config, %q", fieldName)
		}
		mappedName := field.Name
		if namePart := strings.Split(field.Tag.Get("mapstructure"), ",")[0]; namePart != "" {
			if namePart == "-" {
				return fmt.Errorf(`attempt to bind a flag to a config field tagged as ignored, %q`, field.Name)
			}
			mappedName = namePart
		}
		return viper.BindPFlag(mappedName, fs.Lookup(flagName))
	}

	bindOrBail := func(fieldName, flagName string) {
		if err := bind(fieldName, flagName); err != nil {
			bail(err)
		}
	}

	defineString := func(fieldName, flagName, def, desc string) {
		fs.String(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineStringP := func(fieldName, flagName, short, def, desc string) {
		fs.StringP(flagName, short, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineStringSlice := func(fieldName, flagName string, def []string, desc string) {
		fs.StringSlice(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineBool := func(fieldName, flagName string, def bool, desc string) {
		fs.Bool(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineDuration := func(fieldName, flagName string, def time.Duration, desc string) {
		fs.Duration(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineInt := func(fieldName, flagName string, def int, desc string) {
		fs.Int(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineFloat64 := func(fieldName, flagName string, def float64, desc string) {
		fs.Float64(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineString("LogFormat", "log-format", config.DefaultLogFormat, "change the log format (fmt or json)")
	defineStringP("Listen", "listen", "l", config.DefaultListen, "listen address where the API (and /metrics, unless --listen-metrics is given) will be served")
	defineString("ListenMetrics", "listen-metrics", "", "listen address for /metrics endpoint")
	defineString("BaseHref", "base-href", "", "path prefix the API is served under, e.g. /api")
	defineString("PublicURL", "public-url", config.DefaultPublicURL, "externally visible root URL of the API, used in query results")

	defineString("Catalog", "catalog", config.DefaultCatalogURL, "image catalog: a YAML file, or a database URL (file://, memory://, postgres://)")

	// cutouts and rendering
	defineString("CacheRoot", "cache-root", config.DefaultCacheRoot, "directory holding cutouts, rendered images and copies of remote sources")
	defineInt("MaximumCutoutSize", "maximum-cutout-size", config.DefaultCutoutSize, "maximum width and height of a cutout, in pixels")
	defineInt("RenderWorkers", "render-workers", 0, "goroutines used to resample an aligned image; 0 means one per CPU")
	defineString("CutoutTool", "cutout-tool", "", "external program used to cut tile-compressed images, e.g. fitscut; empty disables it")
	defineString("DecompressTool", "decompress-tool", "", "external program used to decompress tile-compressed images, e.g. funpack; empty disables it")
	defineString("CutoutToolTimeout", "cutout-tool-timeout", config.DefaultToolTimeout, "duration after which an external program is stopped")

	// shared cache
	defineString("MemcachedHostname", "memcached-hostname", "", "hostname for memcached service; empty disables memcached")
	defineInt("MemcachedPort", "memcached-port", 11211, "memcached service port")
	defineString("MemcachedService", "memcached-service", "memcached", "SRV service used to discover memcache servers")
	defineDuration("MemcachedTimeout", "memcached-timeout", time.Second, "maximum time to wait before giving up on memcached requests")

	defineString("MinioEndpoint", "minio-endpoint", "", "S3-compatible object store holding shared cache entries; empty disables it")
	defineString("MinioBucket", "minio-bucket", "", "bucket for shared cache entries")
	defineString("MinioAccessKey", "minio-access-key", "", "object store access key")
	defineString("MinioSecretKey", "minio-secret-key", "", "object store secret key")
	defineBool("MinioUseSSL", "minio-use-ssl", true, "use HTTPS to talk to the object store")
	defineString("MinioPrefix", "minio-prefix", "sbnsis/", "prefix of every shared cache object key")

	// remote sources
	defineFloat64("SourceRPS", "source-rps", config.DefaultSourceRPS, "maximum requests per second per remote image host; 0 for no limit")
	defineInt("SourceBurst", "source-burst", config.DefaultSourceBurst, "maximum burst of requests per remote image host")
	defineStringSlice("SourceExclude", "source-exclude", nil, "do not fetch images from hosts that match these glob expressions")
	defineString("S3Region", "s3-region", "", "AWS region for s3:// image references")
}

// loadConfig reads the config file, if there is one, then the
// environment, then the flags, later ones taking precedence.
func loadConfig(path string) (config.Config, error) {
	var cfg config.Config
	viper.SetDefault("sisConfigVersion", config.SISConfigVersion)
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
	viper.SetConfigType(config.ConfigType)
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName(strings.TrimSuffix(config.ConfigName, ".yaml"))
		viper.AddConfigPath(config.ConfigPath)
		viper.AddConfigPath(".")
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			return cfg, errors.Wrap(err, "reading config file")
		}
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "decoding config")
	}
	return cfg, cfg.IsValid()
}
