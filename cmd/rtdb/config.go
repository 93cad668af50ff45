package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	configFlag         = "config"
	endpointFlag       = "endpoint"
	tokenFlag          = "token"
	logLevelFlag       = "log-level"
	reconnectDelayFlag = "reconnect-delay"
	timeoutFlag        = "timeout"
	metricsAddrFlag    = "metrics-addr"

	envPrefix         = "RTDB"
	configName        = "rtdb"
	configType        = "yaml"
	defaultLogLevel   = "warn"
	defaultTimeout    = 30 * time.Second
	defaultReconnect  = time.Second
	homeConfigDirPath = "$HOME/.rtdb"
)

var (
	// ErrMissingEndpoint is returned when no endpoint is configured.
	ErrMissingEndpoint = errors.New("endpoint must be set (--endpoint, RTDB_ENDPOINT or config file)")

	// ErrInvalidTimeout is returned when the request timeout is not positive.
	ErrInvalidTimeout = errors.New("timeout must be positive")
)

// Config holds the resolved command line configuration.
type Config struct {
	Endpoint       string
	Token          string
	LogLevel       zapcore.Level
	ReconnectDelay time.Duration
	Timeout        time.Duration
	MetricsAddr    string
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.String(configFlag, "", "config file (default: $HOME/.rtdb/rtdb.yaml or ./rtdb.yaml)")
	flags.String(endpointFlag, "", "database endpoint, e.g. https://example.firebaseio.com")
	flags.String(tokenFlag, "", "access token attached to every request")
	flags.String(logLevelFlag, defaultLogLevel, "log level: debug, info, warn or error")
	flags.Duration(reconnectDelayFlag, defaultReconnect, "delay between stream reconnect attempts")
	flags.Duration(timeoutFlag, defaultTimeout, "timeout of one-shot requests")
	flags.String(metricsAddrFlag, "", "serve Prometheus metrics on this address, e.g. :9090")

	flags.VisitAll(func(flag *pflag.Flag) {
		if flag.Name == configFlag {
			return
		}
		mustBindPFlag(v, flag.Name, flag)
	})
}

func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

// readConfig wires the environment and the optional config file into v.
func readConfig(v *viper.Viper, configFile string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(homeConfigDirPath)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			return nil
		}

		return fmt.Errorf("failed to read config: %w", err)
	}

	return nil
}

func loadConfig(v *viper.Viper) (Config, error) {
	level, err := zapcore.ParseLevel(v.GetString(logLevelFlag))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Endpoint:       v.GetString(endpointFlag),
		Token:          v.GetString(tokenFlag),
		LogLevel:       level,
		ReconnectDelay: v.GetDuration(reconnectDelayFlag),
		Timeout:        v.GetDuration(timeoutFlag),
		MetricsAddr:    v.GetString(metricsAddrFlag),
	}

	if cfg.Endpoint == "" {
		return Config{}, ErrMissingEndpoint
	}

	if cfg.Timeout <= 0 {
		return Config{}, ErrInvalidTimeout
	}

	return cfg, nil
}

// newLogger builds a console logger writing to stderr, so that stdout only carries command output.
func newLogger(level zapcore.Level) (*zap.Logger, error) {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.DisableStacktrace = true

	return zapConfig.Build()
}
