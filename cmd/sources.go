package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newSourcesCmd lists the configured data sources.
func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Lists the configured data sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := resolveSettings(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCHANNEL\tENABLED\tSEARCH URL")
			for _, src := range s.cfg.Sources {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", src.Name, src.ChannelID, src.IsEnabled(), src.SearchURL)
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("write sources: %w", err)
			}
			return nil
		},
	}
}
