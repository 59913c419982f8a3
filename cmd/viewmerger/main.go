package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var buildVersion = "dev"

var rootCmd = &cobra.Command{
	Version: buildVersion,

	Use:   "viewmerger",
	Short: "Sanitizes the views reported by partitions before they are merged",

	SilenceUsage: true,
}

var cfgFile string
var watchCfgFile bool

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "specifies a config file to load")
	rootCmd.PersistentFlags().BoolVar(&watchCfgFile, "watch-config", false, "indicates whether to watch the config file for changes")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("bind-address", "0.0.0.0", "the local address to bind to")
	configFlags.Int("web-port", 9092, "the web metrics/health/api port")
	configFlags.StringSlice("etcd-endpoints", []string{"localhost:2379"}, "the etcd endpoints views are published to")
	configFlags.String("key-prefix", "/viewmerger/views", "the etcd key prefix views are published under")
	configFlags.String("reporter-id", "", "the identity of the member publishing its view")
	configFlags.Duration("lease-period", 10*time.Second, "how long a published view outlives its publisher")
	configFlags.Duration("round-timeout", 30*time.Second, "how long a merge round keeps retrying collection")
	rootCmd.PersistentFlags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("vmg")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)

	rootCmd.AddCommand(sanitizeCmd, relayConfigCmd, publishCmd, serveCmd)
}

func getLogger(out zapcore.WriteSyncer) (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, out, logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

type config struct {
	logLevelStr   string
	bindAddress   string
	webPort       int
	etcdEndpoints []string
	keyPrefix     string
	reporterID    string
	leasePeriod   time.Duration
	roundTimeout  time.Duration
}

func readConfig(logger *zap.Logger) *config {
	config := &config{
		logLevelStr:   viper.GetString("log-level"),
		bindAddress:   viper.GetString("bind-address"),
		webPort:       viper.GetInt("web-port"),
		etcdEndpoints: viper.GetStringSlice("etcd-endpoints"),
		keyPrefix:     viper.GetString("key-prefix"),
		reporterID:    viper.GetString("reporter-id"),
		leasePeriod:   viper.GetDuration("lease-period"),
		roundTimeout:  viper.GetDuration("round-timeout"),
	}

	logger.Info("parsed viewmerger configuration",
		zap.String("logLevelStr", config.logLevelStr),
		zap.String("bindAddress", config.bindAddress),
		zap.Int("webPort", config.webPort),
		zap.Strings("etcdEndpoints", config.etcdEndpoints),
		zap.String("keyPrefix", config.keyPrefix),
		zap.String("reporterID", config.reporterID),
		zap.Duration("leasePeriod", config.leasePeriod),
		zap.Duration("roundTimeout", config.roundTimeout))

	return config
}

func parseLogLevel(logger *zap.Logger, levelStr string) zapcore.Level {
	parsedLogLevel, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead",
			zap.String("level", levelStr))
		return zapcore.InfoLevel
	}
	return parsedLogLevel
}

// loadConfig reads the config file if one was specified, then applies the
// configured log level.
func loadConfig(logLevel zap.AtomicLevel, logger *zap.Logger) *config {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			logger.Error("failed to load specified config file", zap.Error(err))
			os.Exit(1)
		}
	}

	config := readConfig(logger)
	logLevel.SetLevel(parseLogLevel(logger, config.logLevelStr))

	return config
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
