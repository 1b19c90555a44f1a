package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PRsofteng/start-control-access/internal/clock"
	"github.com/PRsofteng/start-control-access/internal/db"
	"github.com/PRsofteng/start-control-access/internal/portunus/service"
)

func newImportRosterCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import-roster <file.yaml>",
		Short: "Create persons and tags listed in a YAML roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roster, err := db.LoadRoster(args[0])
			if err != nil {
				return err
			}

			st, err := openStores(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer st.Close()

			dir := service.NewDirectory(st.directory, clock.Real(), opts.logger)
			res, err := dir.ImportRoster(cmd.Context(), roster)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "persons created: %d, tags created: %d, tags updated: %d\n",
				res.PersonsCreated, res.TagsCreated, res.TagsUpdated)
			return nil
		},
	}
}
