package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/eegkit/muselink/internal/session"
	"github.com/eegkit/muselink/internal/transport"
	"github.com/eegkit/muselink/internal/transport/goble"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show headband device information",
	Long: `Connects to a headband, queries its device information (firmware and
hardware revision, build number, protocol version) and prints it as YAML.

Without --address the first headband found by discovery is used.`,
	RunE: runInfo,
}

var (
	infoAddress string
	infoTimeout time.Duration
)

func init() {
	infoCmd.Flags().StringVar(&infoAddress, "address", "", "Device address (skips discovery)")
	infoCmd.Flags().DurationVar(&infoTimeout, "timeout", 30*time.Second, "Connection timeout")
}

func runInfo(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("address") {
		infoAddress = cfg.Address
	}
	if !cmd.Flags().Changed("timeout") {
		infoTimeout = cfg.ConnectTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), infoTimeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	tr := goble.New(logger)
	sess := session.New(tr, nil, logger)

	var handle transport.Handle
	if infoAddress != "" {
		handle, err = tr.Connect(ctx, infoAddress)
		if err != nil {
			return err
		}
	}

	if err := sess.Connect(ctx, handle); err != nil {
		if handle != nil {
			_ = handle.Close()
		}
		return err
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			logger.WithError(err).Warn("Disconnect failed")
		}
	}()

	resp, err := sess.DeviceInfo(ctx)
	if err != nil {
		return fmt.Errorf("device info request failed: %w", err)
	}

	out, err := yaml.Marshal(map[string]interface{}{
		"device": sess.Name(),
		"info":   map[string]interface{}(resp),
	})
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
