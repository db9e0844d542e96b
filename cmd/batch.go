package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/streamup/internal/config"
	"github.com/tanq16/streamup/internal/extractor"
	"github.com/tanq16/streamup/internal/output"
	"github.com/tanq16/streamup/internal/scheduler"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Record every streamer listed in a YAML config",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(args[0])
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			jobs := cfg.Jobs(globalHTTPConfig)
			if len(jobs) == 0 {
				output.PrintError("No streamers found in the config file")
				os.Exit(1)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log.Debug().Str("op", "cmd/batch").Msgf("Starting scheduler with %d jobs", len(jobs))
			if err := scheduler.New(extractor.DefaultRegistry(), workers).Run(ctx, jobs); err != nil {
				output.PrintError("Encountered failed recording(s)")
				os.Exit(1)
			}
		},
	}
	return cmd
}
