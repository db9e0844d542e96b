package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/streamup/internal/config"
	"github.com/tanq16/streamup/internal/output"
	"github.com/tanq16/streamup/internal/upload"
	"github.com/tanq16/streamup/internal/utils"
)

func newUploadCmd() *cobra.Command {
	var (
		bucketFile string
		configFile string
		limit      int
		line       string
	)

	cmd := &cobra.Command{
		Use:   "upload [FILE] --bucket BUCKET_JSON",
		Short: "Upload a recording in parallel chunks and hand it to the platform",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(bucketFile)
			if err != nil {
				output.PrintError(fmt.Sprintf("Error reading bucket file: %v", err))
				os.Exit(1)
			}
			bucket, err := upload.ParseBucket(data)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			if configFile != "" {
				cfg, err := config.Load(configFile)
				if err != nil {
					output.PrintError(err.Error())
					os.Exit(1)
				}
				if !cmd.Flags().Changed("limit") {
					limit = cfg.Limit
				}
				if !cmd.Flags().Changed("line") && cfg.Line != "" {
					line = cfg.Line
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			outputMgr := output.NewManager()
			taskID := outputMgr.Register(filepath.Base(args[0]))
			if !utils.GlobalDebugFlag {
				outputMgr.StartDisplay()
			}

			httpCfg := globalHTTPConfig
			httpCfg.Timeout = upload.Timeout
			httpCfg.RequestTimeout = upload.Timeout
			httpCfg.UserAgent = utils.BrowserUserAgent
			session, err := upload.Open(ctx, bucket,
				upload.WithHTTPClientConfig(httpCfg),
				upload.WithProgress(func(uploaded, total int64) {
					outputMgr.SetProgress(taskID, uploaded, total, utils.FormatBytes(uint64(uploaded)))
				}),
			)
			if err != nil {
				outputMgr.ReportError(taskID, err)
				outputMgr.StopDisplay()
				os.Exit(1)
			}
			log.Debug().Str("op", "cmd/upload").Msgf("Upload %s uses line %q with %d workers", session.UploadID(), line, limit)
			outputMgr.SetMessage(taskID, "Uploading to "+bucket.BiliFilename)
			video, err := session.Publish(ctx, args[0], limit, line == "cos-internal")
			if err != nil {
				outputMgr.ReportError(taskID, err)
				outputMgr.StopDisplay()
				os.Exit(1)
			}
			outputMgr.Complete(taskID, "Published "+video.Filename)
			outputMgr.StopDisplay()
			output.PrintField("Title", video.Title)
			output.PrintField("Filename", video.Filename)
		},
	}

	cmd.Flags().StringVarP(&bucketFile, "bucket", "b", "", "Path to the bucket JSON returned by the platform")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML config providing limit and line")
	cmd.Flags().IntVarP(&limit, "limit", "l", upload.DefaultLimit, "Number of parts uploaded in parallel")
	cmd.Flags().StringVar(&line, "line", "cos", "Upload line (cos or cos-internal)")
	cmd.MarkFlagRequired("bucket")
	return cmd
}
