package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/streamup/internal/extractor"
	"github.com/tanq16/streamup/internal/output"
	"github.com/tanq16/streamup/internal/scheduler"
	"github.com/tanq16/streamup/internal/utils"
)

func newRecordCmd() *cobra.Command {
	var (
		name        string
		outputDir   string
		template    string
		segmentTime time.Duration
		segmentSize int64
		archive     string
	)

	cmd := &cobra.Command{
		Use:     "record [URL] [OPTIONS]",
		Short:   "Record a livestream until it ends",
		Aliases: []string{"rec"},
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if name == "" {
				name = "stream"
			}
			job := utils.StreamJob{
				ID:               uuid.New().String(),
				Name:             name,
				URL:              args[0],
				Template:         template,
				OutputDir:        outputDir,
				SegmentTime:      segmentTime,
				SegmentSize:      segmentSize,
				Archive:          archive,
				HTTPClientConfig: globalHTTPConfig,
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log.Debug().Str("op", "cmd/record").Msgf("Starting scheduler for %s", job.URL)
			if err := scheduler.New(extractor.DefaultRegistry(), 1).Run(ctx, []utils.StreamJob{job}); err != nil {
				output.PrintError("Recording failed")
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Streamer name, used as the output sub-directory")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Output directory")
	cmd.Flags().StringVar(&template, "template", "", "File name template with {title} and %Y %m %d %H %M %S")
	cmd.Flags().DurationVar(&segmentTime, "segment-time", 0, "Start a new file after this duration (eg. 1h)")
	cmd.Flags().Int64Var(&segmentSize, "segment-size", 0, "Start a new file after this many bytes")
	cmd.Flags().StringVar(&archive, "archive", "", "Copy finished files to s3://bucket/prefix")
	return cmd
}
