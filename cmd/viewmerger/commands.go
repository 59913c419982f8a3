package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchbase/viewmerger/common/merger"
	"github.com/couchbase/viewmerger/common/relayconfig"
	"github.com/couchbase/viewmerger/common/snapshotdoc"
	"github.com/couchbase/viewmerger/contrib/goviewcollect"
	"github.com/couchbase/viewmerger/contrib/views"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/exp/slices"
)

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize <file>",
	Short: "Sanitizes a snapshot document of reported views and prints the result",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel, logger := getLogger(zapcore.Lock(os.Stderr))
		loadConfig(logLevel, logger)

		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "failed to open snapshot document")
		}
		defer f.Close()

		snap, err := snapshotdoc.Read(f)
		if err != nil {
			return err
		}

		sanitizer := &merger.Sanitizer{Logger: logger.Named("sanitizer")}
		res, err := sanitizer.Sanitize(cmd.Context(), snap)
		if err != nil {
			return err
		}

		return snapshotdoc.WriteResult(cmd.OutOrStdout(), res)
	},
}

var relayConfigCmd = &cobra.Command{
	Use:   "relay-config <file>",
	Short: "Parses a relay configuration and prints its sites",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		sites, err := relayconfig.ParseFile(args[0])
		if err != nil {
			return err
		}

		names := make([]string, 0, len(sites))
		for name := range sites {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprint(cmd.OutOrStdout(), sites[name].String())
		}
		return nil
	},
}

var publishCoordinator string
var publishMembers []string

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publishes this member's view to etcd and holds it until interrupted",
	Args:  cobra.NoArgs,

	Run: func(cmd *cobra.Command, args []string) {
		logLevel, logger := getLogger(zapcore.Lock(os.Stdout))
		config := loadConfig(logLevel, logger)

		if config.reporterID == "" {
			logger.Error("a reporter-id must be specified to publish a view")
			os.Exit(1)
		}

		coordinator := publishCoordinator
		if coordinator == "" {
			coordinator = config.reporterID
		}

		view := views.NewView(views.Identity(coordinator), toIdentities(publishMembers)...)

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

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		pub, err := provider.Publish(ctx, views.Identity(config.reporterID), view)
		if err != nil {
			logger.Error("failed to publish view", zap.Error(err))
			os.Exit(1)
		}

		logger.Info("published view",
			zap.String("reporterID", config.reporterID),
			zap.Stringer("view", view))

		<-ctx.Done()

		err = pub.Withdraw(context.Background())
		if err != nil {
			logger.Warn("failed to withdraw published view", zap.Error(err))
		}

		logger.Info("withdrew published view")
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishCoordinator, "coordinator", "", "the coordinator of the published view, defaults to the reporter")
	publishCmd.Flags().StringSliceVar(&publishMembers, "members", nil, "the members of the published view, in order")
}

func toIdentities(members []string) []views.Identity {
	ids := make([]views.Identity, 0, len(members))
	for _, member := range members {
		ids = append(ids, views.Identity(member))
	}
	return ids
}
