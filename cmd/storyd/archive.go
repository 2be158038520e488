package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/storyline/internal/service"
)

func newArchiveCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "archive-expired",
		Short: "Snapshot expired stories into the archive once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.cfg)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			n, err := service.NewArchiveService(a.repos).ArchiveExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d stories\n", n)
			return nil
		},
	}
}
