package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/italolelis/seedbox_aria2/internal/fetch"
	"github.com/italolelis/seedbox_aria2/internal/storage"
	"github.com/italolelis/seedbox_aria2/internal/storage/sqlite"
)

func newAddCmd() *cobra.Command {
	var (
		title           string
		path            string
		contentFilename string
	)

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Queue a URL or magnet link for the running dispatcher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)

			req := newRequest(args[0], title)

			if cmd.Flags().Changed("path") {
				req.Overrides.Path = &path
			}

			if cmd.Flags().Changed("content-filename") {
				req.Overrides.ContentFilename = &contentFilename
			}

			database, err := sqlite.InitDB(cfg.DBPath)
			if err != nil {
				return fail(cmd, err)
			}
			defer database.Close()

			repo := sqlite.NewFetchRepository(database)

			if err := repo.Enqueue(cmd.Context(), req); err != nil {
				if errors.Is(err, storage.ErrDuplicate) {
					fmt.Fprintf(cmd.OutOrStdout(), "already queued: %s\n", req.ID)
					return nil
				}

				return fail(cmd, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "queued %s (%s)\n", req.Title, req.ID)

			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "title used in templates and logs (defaults to the magnet name or the url)")
	cmd.Flags().StringVar(&path, "path", "", "download directory template, overrides the task path")
	cmd.Flags().StringVar(&contentFilename, "content-filename", "", "rename template for the selected files")

	return cmd
}

// newRequest builds a fetch request for url. Magnet links are keyed by their info
// hash so the same content is never queued twice.
func newRequest(url, title string) fetch.FetchRequest {
	req := fetch.FetchRequest{ID: uuid.NewString(), URL: url, Title: title}

	if hash, ok := fetch.MagnetInfoHash(url, ""); ok {
		req.ID = hash
		req.InfoHash = hash
	}

	if req.Title == "" {
		req.Title = url
	}

	return req
}
