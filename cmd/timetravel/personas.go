package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPersonasCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "Validate the persona catalog and citation sources, then print the roster",
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, sources, err := loadCatalog(a.cfg.Catalog)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tUNLOCK AFTER")
			for _, p := range catalog.List() {
				unlock := "default"
				if p.UnlockAfterMessages != nil {
					unlock = strconv.Itoa(*p.UnlockAfterMessages)
				} else if p.ID != catalog.DefaultID() {
					unlock = "open"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, unlock)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d citation sources\n", sources.Len())
			return nil
		},
	}
}
