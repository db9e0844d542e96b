package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/streamup/internal/extractor"
	"github.com/tanq16/streamup/internal/output"
	"github.com/tanq16/streamup/internal/utils"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [URL]",
		Short: "Resolve a room page into its direct media URL",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			client := utils.NewHTTPClient(globalHTTPConfig)
			site, err := extractor.DefaultRegistry().Resolve(context.Background(), args[0], client)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			output.PrintHeader(site.Name)
			output.PrintField("Title", site.Title)
			output.PrintField("Container", site.Kind.String())
			output.PrintField("Direct url", site.DirectURL)
		},
	}
	return cmd
}
