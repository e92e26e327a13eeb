package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/google/nearby-sub023/internal/config"
	"github.com/google/nearby-sub023/internal/payload"
	"github.com/google/nearby-sub023/pkg/connections"
)

var (
	discServiceID string
	discInfo      string
	discStrategy  string
	discAutoBWU   bool
	discSendText  string
	discSendFile  string
	discTimeout   time.Duration
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover a service, connect to the first endpoint found, and optionally send one payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), discTimeout)
		defer cancel()
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		go func() { <-sigc; cancel() }()

		m := maybeStartMetrics(ctx, metricsAddr, cfg)
		registry := buildRegistry(cfg.Drivers)

		c := connections.New(registry, m, "")
		c.SetBWUConfig(cfg.BWU)
		listener := newCLIListener(c, true)
		listener.requestOnFind = true
		listener.localInfo = []byte(discInfo)

		opts := config.DiscoveryOptions{
			Strategy:             config.Strategy(discStrategy),
			AutoUpgradeBandwidth: discAutoBWU,
		}
		if st := c.Discover(discServiceID, opts, listener); st != connections.StatusOK {
			cmd.PrintErrf("discover: %s\n", st)
			return nil
		}
		cmd.Printf("discovering %q as endpoint %s\n", discServiceID, c.LocalID())

		var endpointID string
		select {
		case endpointID = <-listener.connected:
		case <-ctx.Done():
			c.StopAllEndpoints()
			return fmt.Errorf("timed out before connecting to any endpoint")
		}

		if discSendText != "" {
			if st := c.SendPayload([]string{endpointID}, payload.NewOutgoingBytes([]byte(discSendText))); st != connections.StatusOK {
				cmd.PrintErrf("send_payload: %s\n", st)
			} else {
				<-listener.done
			}
		} else if discSendFile != "" {
			f, err := os.Open(discSendFile)
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			if st := c.SendPayload([]string{endpointID}, payload.NewOutgoingFile(f, info.Size())); st != connections.StatusOK {
				cmd.PrintErrf("send_payload: %s\n", st)
			} else {
				<-listener.done
			}
		} else {
			<-ctx.Done()
		}

		c.StopAllEndpoints()
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discServiceID, "service", "nearbyctl", "service id to discover")
	discoverCmd.Flags().StringVar(&discInfo, "info", "discoverer", "endpoint info sent in the connection request")
	discoverCmd.Flags().StringVar(&discStrategy, "strategy", string(config.StrategyCluster), "P2P_CLUSTER | P2P_STAR | P2P_POINT_TO_POINT")
	discoverCmd.Flags().BoolVar(&discAutoBWU, "auto-upgrade", false, "automatically attempt a bandwidth upgrade once connected")
	discoverCmd.Flags().StringVar(&discSendText, "send", "", "send this text as a BYTES payload once connected")
	discoverCmd.Flags().StringVar(&discSendFile, "file", "", "send this file as a FILE payload once connected")
	discoverCmd.Flags().DurationVar(&discTimeout, "timeout", 2*time.Minute, "how long to wait for discovery and connection")
}
