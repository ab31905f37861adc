package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/vision-demo/internal/demo"
	"github.com/example/vision-demo/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one demo flow and print the outcome",
	Long: `Creates a session, uploads the file, triggers processing, polls until the session
finishes and prints the session and result as JSON. Ctrl-C stops polling.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		logger, err := logging.NewDevelopmentLogger(verbose)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		rawType, _ := cmd.Flags().GetString("type")
		demoType, err := demo.ParseDemoType(rawType)
		if err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("file")
		payload, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		poll := cfg.Poll()
		if cmd.Flags().Changed("interval") {
			poll.Interval, _ = cmd.Flags().GetDuration("interval")
		}
		if cmd.Flags().Changed("max-attempts") {
			poll.MaxAttempts, _ = cmd.Flags().GetInt("max-attempts")
		}
		var opts []demo.TriggerOption
		if cmd.Flags().Changed("confidence") {
			threshold, _ := cmd.Flags().GetFloat64("confidence")
			opts = append(opts, demo.WithConfidence(threshold))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		artifact := demo.UploadArtifact{FileName: filepath.Base(path), Payload: payload}
		outcome, runErr := a.client.Run(ctx, demoType, artifact, poll, opts...)
		if outcome != nil {
			if err := printJSON(cmd.OutOrStdout(), outcome); err != nil {
				return err
			}
		}
		return runErr
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("type", "t", "", "Demo type: "+demoTypeList())
	runCmd.Flags().StringP("file", "f", "", "Image or video file to analyse")
	runCmd.Flags().Duration("interval", 0, "Delay between status checks (default from config)")
	runCmd.Flags().Int("max-attempts", 0, "Status checks before giving up (default from config)")
	runCmd.Flags().Float64("confidence", 0, "Detection confidence threshold in [0,1]")
	_ = runCmd.MarkFlagRequired("type")
	_ = runCmd.MarkFlagRequired("file")
}

func demoTypeList() string {
	names := make([]string, 0, len(demo.DemoTypes()))
	for _, d := range demo.DemoTypes() {
		names = append(names, string(d))
	}
	return strings.Join(names, ", ")
}
