package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/couchbase/viewmerger/common/merger"
	"github.com/couchbase/viewmerger/common/mergeround"
	"github.com/couchbase/viewmerger/contrib/goviewcollect"
	"github.com/couchbase/viewmerger/pkg/metrics"
	"github.com/couchbase/viewmerger/pkg/webapi"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/exp/slices"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs a merge round whenever the published views change and serves the web api",
	Args:  cobra.NoArgs,

	Run: func(cmd *cobra.Command, args []string) {
		startServer()
	},
}

func initTelemetry() (*sdkmetric.MeterProvider, error) {
	promExp, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExp),
	), nil
}

func newEtcdClient(config *config, logger *zap.Logger) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   config.etcdEndpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
}

func startServer() {
	logLevel, logger := getLogger(zapcore.Lock(os.Stdout))

	logger.Info("starting viewmerger", zap.String("version", buildVersion))

	logger.Info("parsed launch configuration",
		zap.String("config", cfgFile),
		zap.Bool("watch-config", watchCfgFile))

	config := loadConfig(logLevel, logger)

	meterProvider, err := initTelemetry()
	if err != nil {
		logger.Error("failed to initialize opentelemetry metrics", zap.Error(err))
		os.Exit(1)
	}
	otel.SetMeterProvider(meterProvider)

	etcdClient, err := newEtcdClient(config, logger)
	if err != nil {
		logger.Error("failed to connect to etcd", zap.Error(err))
		os.Exit(1)
	}
	defer etcdClient.Close()

	provider, err := goviewcollect.NewEtcdProvider(goviewcollect.EtcdProviderOptions{
		EtcdClient:  etcdClient,
		KeyPrefix:   config.keyPrefix,
		LeasePeriod: config.leasePeriod,
		Logger:      logger.Named("etcd-provider"),
	})
	if err != nil {
		logger.Error("failed to initialize the view provider", zap.Error(err))
		os.Exit(1)
	}

	mergeMetrics := metrics.GetMergeMetrics()
	driver := mergeround.NewDriver(mergeround.DriverOptions{
		Provider:   provider,
		Logger:     logger.Named("driver"),
		Metrics:    mergeMetrics,
		MaxElapsed: config.roundTimeout,
	})

	webListenAddress := fmt.Sprintf("%s:%v", config.bindAddress, config.webPort)
	web := webapi.InitializeWebServer(webapi.WebServerOptions{
		Logger:        logger.Named("webapi"),
		LogLevel:      &logLevel,
		ListenAddress: webListenAddress,
		Rounds:        driver,
		Sanitizer: &merger.Sanitizer{
			Logger:  logger.Named("sanitizer"),
			Metrics: mergeMetrics,
		},
	})

	var configLock sync.Mutex
	reloadConfiguration := func() {
		configLock.Lock()
		defer configLock.Unlock()

		if cfgFile != "" {
			err := viper.ReadInConfig()
			if err != nil {
				logger.Warn("failed to parse configuration file",
					zap.Error(err))
			}
		}

		newConfig := readConfig(logger)

		if newConfig.bindAddress != config.bindAddress ||
			newConfig.webPort != config.webPort {
			logger.Warn("config changes for bindAddress or webPort require a restart")
		}

		if newConfig.keyPrefix != config.keyPrefix ||
			newConfig.leasePeriod != config.leasePeriod ||
			newConfig.roundTimeout != config.roundTimeout ||
			!slices.Equal(newConfig.etcdEndpoints, config.etcdEndpoints) {
			logger.Warn("config changes for etcdEndpoints, keyPrefix, leasePeriod, or roundTimeout require a restart")
		}

		if newConfig.logLevelStr != config.logLevelStr {
			newParsedLogLevel := parseLogLevel(logger, newConfig.logLevelStr)
			logLevel.SetLevel(newParsedLogLevel)

			logger.Info("updated log level",
				zap.String("newLevel", newParsedLogLevel.String()))
		}

		config = newConfig
	}

	if watchCfgFile && cfgFile != "" {
		viper.OnConfigChange(func(in fsnotify.Event) {
			logger.Info("configuration file change detected")
			reloadConfiguration()
		})

		go viper.WatchConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		hasReceivedSigInt := false
		for sig := range sigCh {
			if sig == syscall.SIGINT {
				if hasReceivedSigInt {
					logger.Info("Received SIGINT a second time, terminating...")
					os.Exit(1)
				} else {
					logger.Info("Received SIGINT, attempting graceful shutdown...")
					hasReceivedSigInt = true
					cancel()
				}
			} else if sig == syscall.SIGTERM {
				logger.Info("Received SIGTERM, attempting graceful shutdown...")
				cancel()
			} else if sig == syscall.SIGHUP {
				logger.Info("Received SIGHUP, reloading configuration...")
				reloadConfiguration()
			}
		}
	}()

	runErr := driver.Run(ctx, func(round *mergeround.Round) {
		web.MarkHealthy()

		logger.Info("completed merge round",
			zap.String("roundId", round.ID.String()),
			zap.Int("reporters", round.Result.Views.Len()),
			zap.Int("droppedClaims", len(round.Result.Dropped)),
			zap.Duration("duration", round.Duration))
	})

	err = meterProvider.Shutdown(context.Background())
	if err != nil {
		logger.Warn("failed to shutdown meter provider", zap.Error(err))
	}

	if runErr != nil {
		logger.Error("merge rounds stopped", zap.Error(runErr))
		os.Exit(1)
	}

	logger.Info("viewmerger shutdown gracefully")
}

