package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/google/nearby-sub023/internal/config"
	"github.com/google/nearby-sub023/pkg/connections"
)

var (
	advServiceID string
	advInfo      string
	advStrategy  string
	advAutoBWU   bool
)

var advertiseCmd = &cobra.Command{
	Use:   "advertise",
	Short: "Advertise a service and accept incoming connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		go func() { <-sigc; cancel() }()

		m := maybeStartMetrics(ctx, metricsAddr, cfg)
		registry := buildRegistry(cfg.Drivers)

		c := connections.New(registry, m, "")
		c.SetBWUConfig(cfg.BWU)
		listener := newCLIListener(c, true)

		opts := config.AdvertisingOptions{
			Strategy:             config.Strategy(advStrategy),
			AutoUpgradeBandwidth: advAutoBWU,
		}
		if st := c.Advertise(advServiceID, []byte(advInfo), opts, listener); st != connections.StatusOK {
			cmd.PrintErrf("advertise: %s\n", st)
			return nil
		}
		cmd.Printf("advertising %q as endpoint %s, press Ctrl+C to stop\n", advServiceID, c.LocalID())
		<-ctx.Done()
		c.StopAllEndpoints()
		return nil
	},
}

func init() {
	advertiseCmd.Flags().StringVar(&advServiceID, "service", "nearbyctl", "service id to advertise")
	advertiseCmd.Flags().StringVar(&advInfo, "info", "advertiser", "endpoint info advertised to discoverers")
	advertiseCmd.Flags().StringVar(&advStrategy, "strategy", string(config.StrategyCluster), "P2P_CLUSTER | P2P_STAR | P2P_POINT_TO_POINT")
	advertiseCmd.Flags().BoolVar(&advAutoBWU, "auto-upgrade", false, "automatically attempt a bandwidth upgrade once connected")
}
