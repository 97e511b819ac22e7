package main

import (
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/italolelis/seedbox_aria2/internal/aria2"
	"github.com/italolelis/seedbox_aria2/internal/fetch"
)

func newListCmd() *cobra.Command {
	var onlyComplete bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the downloads aria2 knows about",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)

			client := aria2.NewClient(cfg.Aria2.RPCURL, cfg.Aria2.Secret, &http.Client{Timeout: cfg.Aria2.Timeout})

			downloads, err := fetch.ListDownloads(cmd.Context(), client, onlyComplete)
			if err != nil {
				return fail(cmd, err)
			}

			printDownloads(cmd, downloads)

			return nil
		},
	}

	cmd.Flags().BoolVar(&onlyComplete, "only-complete", false, "only show finished downloads")

	return cmd
}

func printDownloads(cmd *cobra.Command, downloads []fetch.Download) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "GID\tSTATUS\tSIZE\tDONE\tTITLE")

	for _, d := range downloads {
		done := "-"
		if d.Size > 0 {
			done = fmt.Sprintf("%.0f%%", float64(d.CompletedLength)/float64(d.Size)*100)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			d.GID, d.Status, humanize.Bytes(uint64(max(d.Size, 0))), done, d.Title)
	}
}
