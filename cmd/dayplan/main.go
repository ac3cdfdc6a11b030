package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/dayplan/internal/agenda"
	"github.com/stellarlinkco/dayplan/internal/config"
	"github.com/stellarlinkco/dayplan/internal/gateway"
)

var rootCmd = &cobra.Command{
	Use:   "dayplan",
	Short: "dayplan - daily calendar digests over Telegram",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway (telegram + calendar webhook + plan sweep)",
	RunE:  runServe,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dayplan status",
	RunE:  runStatus,
}

var renderCmd = &cobra.Command{
	Use:   "render [file]",
	Short: "Render an events payload (JSON or iCalendar) the way it would be delivered",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRender,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Drop cached plans older than the configured retention now",
	RunE:  runSweep,
}

var dayFlag string

func init() {
	renderCmd.Flags().StringVarP(&dayFlag, "day", "d", "today", "Day bucket: today or tomorrow")
	rootCmd.AddCommand(serveCmd, onboardCmd, statusCmd, renderCmd, sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(cmd.Context())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	return onboard(cmd.OutOrStdout())
}

func onboard(out io.Writer) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set telegram.token and webhook.apiKey\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set DAYPLAN_TELEGRAM_TOKEN and DAYPLAN_API_KEY")
	fmt.Fprintln(out, "  3. Run 'dayplan serve'")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	return status(cmd.OutOrStdout())
}

func status(out io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Telegram token: %s\n", mask(cfg.Telegram.Token))
	fmt.Fprintf(out, "Telegram mode: %s\n", cfg.Telegram.Mode)
	if cfg.Telegram.Mode == config.TelegramModeWebhook {
		fmt.Fprintf(out, "Telegram webhook: %s\n", cfg.Telegram.WebhookURL)
	}
	fmt.Fprintf(out, "Webhook: %s:%d%s\n", cfg.Webhook.Host, cfg.Webhook.Port, config.DefaultIngestPath)
	fmt.Fprintf(out, "API key: %s\n", mask(cfg.Webhook.APIKey))
	if cfg.Store.Driver == config.StoreDriverSQLite {
		fmt.Fprintf(out, "Store: sqlite (%s)\n", cfg.Store.DBPath())
	} else {
		fmt.Fprintf(out, "Store: %s (max %d users)\n", cfg.Store.Driver, cfg.Store.MaxUsers)
	}
	if cfg.Sweep.Enabled {
		fmt.Fprintf(out, "Sweep: %q, retention %s\n", cfg.Sweep.Schedule, cfg.Sweep.RetentionDuration())
	} else {
		fmt.Fprintln(out, "Sweep: disabled")
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Ready: no (%v)\n", err)
	} else {
		fmt.Fprintln(out, "Ready: yes")
	}
	return nil
}

func mask(secret string) string {
	switch {
	case secret == "":
		return "not set"
	case len(secret) > 8:
		return secret[:4] + "..." + secret[len(secret)-4:]
	default:
		return "set"
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	return sweep(cmd.OutOrStdout())
}

func sweep(out io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Driver != config.StoreDriverSQLite {
		fmt.Fprintf(out, "Store %q keeps plans in process memory; nothing to sweep from here\n", cfg.Store.Driver)
		return nil
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer gw.Shutdown()

	state, err := gw.SweepNow()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Sweep: %s at %s\n", state.LastStatus, state.LastRunAt.Format(time.RFC3339))
	return nil
}

func runRender(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open payload: %w", err)
		}
		defer f.Close()
		in = f
	}
	return render(in, cmd.OutOrStdout(), cmd.ErrOrStderr(), dayFlag)
}

func render(in io.Reader, out, errOut io.Writer, day string) error {
	d, err := agenda.ParseDay(day)
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	batch := agenda.Decode(raw)
	fmt.Fprintf(errOut, "shape=%s events=%d skipped=%d\n", batch.Shape, len(batch.Events), batch.Skipped)
	fmt.Fprintln(out, agenda.FormatDay(d, batch.Events))
	return nil
}
