package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/osdp-pd/internal/config"
	"github.com/barnettlynn/osdp-pd/internal/sensors"
	"github.com/barnettlynn/osdp-pd/internal/transport"
	"github.com/barnettlynn/osdp-pd/pkg/osdp"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the PD engine against a real serial line",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to the osdpd YAML config file")
	serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	engineCfg, err := cfg.ToEngineConfig()
	if err != nil {
		return fmt.Errorf("resolve engine config: %w", err)
	}

	channel, err := transport.OpenSerial(cfg.Device.Path, engineCfg.BaudRate)
	if err != nil {
		return fmt.Errorf("open serial device: %w", err)
	}
	defer channel.Close()

	engine, err := osdp.Setup(channel, engineCfg)
	if err != nil {
		return fmt.Errorf("set up engine: %w", err)
	}
	engine.SetLogger(logger)

	var monitor *sensors.GPIOMonitor
	if cfg.Runtime.GPIO != nil {
		tamperLine, powerLine := -1, -1
		if cfg.Runtime.GPIO.TamperLine != nil {
			tamperLine = *cfg.Runtime.GPIO.TamperLine
		}
		if cfg.Runtime.GPIO.PowerLine != nil {
			powerLine = *cfg.Runtime.GPIO.PowerLine
		}
		monitor, err = sensors.Open(cfg.Runtime.GPIO.Chip, tamperLine, powerLine, engine, logger)
		if err != nil {
			return fmt.Errorf("start gpio monitor: %w", err)
		}
		defer monitor.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	tick := time.Duration(cfg.TickIntervalMS()) * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	logger.Info("osdpd: serving", "device", cfg.Device.Path, "address", engineCfg.Address, "baud", engineCfg.BaudRate)

	for {
		select {
		case sig := <-sigCh:
			logger.Info("osdpd: shutting down", "signal", sig.String())
			return nil
		case now := <-ticker.C:
			engine.Refresh(now)
			for {
				appCmd, ok := engine.GetCmd()
				if !ok {
					break
				}
				logCommand(logger, appCmd)
			}
		}
	}
}

func logCommand(logger *slog.Logger, cmd osdp.Command) {
	switch cmd.Kind {
	case osdp.CmdOutput:
		logger.Info("osdpd: output command", "output_no", cmd.Output.OutputNo, "control_code", cmd.Output.ControlCode)
	case osdp.CmdLED:
		logger.Info("osdpd: led command", "reader", cmd.LED.Reader, "led", cmd.LED.LEDNumber)
	case osdp.CmdBuzzer:
		logger.Info("osdpd: buzzer command", "reader", cmd.Buzzer.Reader, "tone", cmd.Buzzer.ToneCode)
	case osdp.CmdText:
		logger.Info("osdpd: text command", "reader", cmd.Text.Reader, "data", string(cmd.Text.Data))
	case osdp.CmdKeyset:
		logger.Info("osdpd: keyset command applied")
	case osdp.CmdComset:
		logger.Info("osdpd: comset command", "addr", cmd.Comset.Addr, "baud", cmd.Comset.Baud)
	}
}
