// Command cwrecv runs a CW receiver: it listens for keying packets, recovers
// losses from parity, and logs each decoded key event plus periodic pipeline
// statistics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	cwprotocol "github.com/tompatulpan/duration-encoded-cw-protocol-sub001"
	"github.com/tompatulpan/duration-encoded-cw-protocol-sub001/cw"
)

var (
	cfgFile       string
	listenAddr    string
	bufferDelay   time.Duration
	lateThreshold time.Duration
	blockTimeout  time.Duration
	statsInterval time.Duration
	verbose       bool
)

// fileConfig mirrors the receiver settings in their YAML form. Durations are
// millisecond integers, matching the wire format's unit.
type fileConfig struct {
	ListenAddr          string `yaml:"listen_addr"`
	BufferDelayMs       int    `yaml:"buffer_delay_ms"`
	LateDropThresholdMs int    `yaml:"late_drop_threshold_ms"`
	BlockTimeoutMs      int    `yaml:"block_timeout_ms"`
	BlockReuseTTLMs     int    `yaml:"block_reuse_ttl_ms"`
}

var rootCmd = &cobra.Command{
	Use:           "cwrecv",
	Short:         "Receive CW keying over UDP with FEC recovery and jitter buffering",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "YAML config file; flags override its values")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":7373", "UDP listen address")
	rootCmd.Flags().DurationVar(&bufferDelay, "buffer-delay", 100*time.Millisecond, "jitter buffer delay (0 = direct playout)")
	rootCmd.Flags().DurationVar(&lateThreshold, "late-threshold", 500*time.Millisecond, "drop events older than this at enqueue (0 = disabled)")
	rootCmd.Flags().DurationVar(&blockTimeout, "block-timeout", 2*time.Second, "how long an incomplete FEC block may wait")
	rootCmd.Flags().DurationVar(&statsInterval, "stats-interval", 10*time.Second, "how often to log pipeline statistics")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	rx, err := cwprotocol.New(cfg)
	if err != nil {
		return err
	}
	rx.OnEventReady(func(ev cw.Event) {
		logrus.WithFields(logrus.Fields{
			"sequence": ev.Sequence,
			"key":      ev.State.String(),
			"duration": ev.Duration.String(),
		}).Info("Key event")
	})

	if err := rx.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logStats(rx)
			return rx.Stop()
		case <-ticker.C:
			logStats(rx)
		}
	}
}

// buildConfig layers the sources: defaults, then the YAML file, then any
// flag the user set on the command line.
func buildConfig(cmd *cobra.Command) (*cwprotocol.Config, error) {
	cfg := cwprotocol.NewConfig()

	if cfgFile != "" {
		if err := applyFile(cfg, cfgFile); err != nil {
			return nil, fmt.Errorf("load config %s: %w", cfgFile, err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr = listenAddr
	}
	if flags.Changed("buffer-delay") {
		cfg.BufferDelay = bufferDelay
	}
	if flags.Changed("late-threshold") {
		cfg.LateDropThreshold = lateThreshold
	}
	if flags.Changed("block-timeout") {
		cfg.BlockTimeout = blockTimeout
	}
	return cfg, nil
}

func applyFile(cfg *cwprotocol.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.BufferDelayMs > 0 {
		cfg.BufferDelay = time.Duration(fc.BufferDelayMs) * time.Millisecond
	}
	if fc.LateDropThresholdMs > 0 {
		cfg.LateDropThreshold = time.Duration(fc.LateDropThresholdMs) * time.Millisecond
	}
	if fc.BlockTimeoutMs > 0 {
		cfg.BlockTimeout = time.Duration(fc.BlockTimeoutMs) * time.Millisecond
	}
	if fc.BlockReuseTTLMs > 0 {
		cfg.BlockReuseTTL = time.Duration(fc.BlockReuseTTLMs) * time.Millisecond
	}
	return nil
}

func logStats(rx *cwprotocol.Receiver) {
	snap := rx.Stats()
	logrus.WithFields(logrus.Fields{
		"packets_received":     snap.PacketsReceived,
		"fec_packets_received": snap.FecPacketsReceived,
		"packets_recovered":    snap.PacketsRecovered,
		"packets_lost":         snap.PacketsLost,
		"duplicates":           snap.Duplicates,
		"late_drops":           snap.LateDrops,
		"malformed":            snap.Malformed,
		"buffer_depth":         rx.BufferDepth(),
	}).Info("Pipeline statistics")
}
