package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/eegkit/muselink/internal/session"
	"github.com/eegkit/muselink/internal/transport"
	"github.com/eegkit/muselink/internal/transport/goble"
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream timestamped readings from a headband",
	Long: `Connects to a headband, starts data streaming, and prints electrode
readings as they arrive. Each reading carries a reconstructed wall-clock
timestamp in milliseconds since epoch.

Telemetry and motion streams can be mixed in with --telemetry and --motion.
Streaming runs until Ctrl+C or --duration elapses.`,
	RunE: runStream,
}

var (
	streamAddress   string
	streamDuration  time.Duration
	streamFormat    string
	streamAux       bool
	streamTelemetry bool
	streamMotion    bool
	streamNoColor   bool
	streamTimeout   time.Duration
)

func init() {
	streamCmd.Flags().StringVar(&streamAddress, "address", "", "Device address (skips discovery)")
	streamCmd.Flags().DurationVarP(&streamDuration, "duration", "d", 0, "Streaming duration (0 for indefinite)")
	streamCmd.Flags().StringVarP(&streamFormat, "format", "f", "plain", "Output format (plain, yaml, json)")
	streamCmd.Flags().BoolVar(&streamAux, "aux", false, "Enable the auxiliary electrode (five-channel preset)")
	streamCmd.Flags().BoolVar(&streamTelemetry, "telemetry", false, "Include power telemetry in the output")
	streamCmd.Flags().BoolVar(&streamMotion, "motion", false, "Include accelerometer and gyroscope in the output")
	streamCmd.Flags().BoolVar(&streamNoColor, "no-color", false, "Disable colored output")
	streamCmd.Flags().DurationVar(&streamTimeout, "timeout", 30*time.Second, "Connection timeout")
}

// electrodeColors maps electrode index to its display color in plain output.
var electrodeColors = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgMagenta),
	color.New(color.FgBlue),
}

func runStream(cmd *cobra.Command, args []string) error {
	if !validFormat(streamFormat) {
		return fmt.Errorf("invalid format %q: must be plain, yaml, or json", streamFormat)
	}

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
		streamAddress = cfg.Address
	}
	if !cmd.Flags().Changed("aux") {
		streamAux = cfg.Aux
	}
	if !cmd.Flags().Changed("format") {
		streamFormat = cfg.Format
	}
	if !cmd.Flags().Changed("timeout") {
		streamTimeout = cfg.ConnectTimeout
	}

	useColor := streamFormat == formatPlain && !streamNoColor && term.IsTerminal(int(os.Stdout.Fd()))

	baseCtx := context.Background()
	if streamDuration > 0 {
		var cancelTimeout context.CancelFunc
		baseCtx, cancelTimeout = context.WithTimeout(baseCtx, streamDuration)
		defer cancelTimeout()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nCtrl+C pressed, stopping stream...")
		cancel()
	}()

	tr := goble.New(logger)
	opts := session.DefaultOptions()
	opts.EnableAux = streamAux
	opts.ResponseTimeout = cfg.ResponseTimeout
	sess := session.New(tr, opts, logger)

	var handle transport.Handle
	if streamAddress != "" {
		connectCtx, cancelConnect := context.WithTimeout(ctx, streamTimeout)
		handle, err = tr.Connect(connectCtx, streamAddress)
		cancelConnect()
		if err != nil {
			return err
		}
	}

	fmt.Fprintln(os.Stderr, "Connecting to headband...")
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

	// Subscribe before starting the stream so the first readings are not lost.
	eegSub := sess.EEG().Subscribe()
	defer eegSub.Cancel()
	teleSub := sess.Telemetry().Subscribe()
	defer teleSub.Cancel()
	accelSub := sess.Accelerometer().Subscribe()
	defer accelSub.Cancel()
	gyroSub := sess.Gyroscope().Subscribe()
	defer gyroSub.Cancel()
	connSub := sess.ConnectionState().Subscribe()
	defer connSub.Cancel()

	if err := sess.Start(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Streaming from %s (%d electrodes). Press Ctrl+C to stop...\n",
		sess.Name(), sess.ElectrodeCount())

	for {
		select {
		case <-ctx.Done():
			return nil
		case connected := <-connSub.C():
			if !connected {
				return ErrConnectionLost
			}
		case r := <-eegSub.C():
			line, err := renderEEG(r, streamFormat)
			if err != nil {
				return err
			}
			printReading(line, r.Electrode, useColor)
		case t := <-teleSub.C():
			if !streamTelemetry {
				continue
			}
			line, err := renderTelemetry(t, streamFormat)
			if err != nil {
				return err
			}
			fmt.Println(line)
		case m := <-accelSub.C():
			if !streamMotion {
				continue
			}
			line, err := renderMotion("accel", m, streamFormat)
			if err != nil {
				return err
			}
			fmt.Println(line)
		case m := <-gyroSub.C():
			if !streamMotion {
				continue
			}
			line, err := renderMotion("gyro", m, streamFormat)
			if err != nil {
				return err
			}
			fmt.Println(line)
		}
	}
}

// printReading writes one rendered reading, coloring plain output by electrode.
func printReading(line string, electrode int, useColor bool) {
	if useColor && electrode < len(electrodeColors) {
		electrodeColors[electrode].Println(line)
		return
	}
	fmt.Println(line)
}
