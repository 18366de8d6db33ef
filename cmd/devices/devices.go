// Package devices prints the configured device catalog
package devices

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/agm/internal/conf"
)

// Command creates the devices command
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the device catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Print(cmd.OutOrStdout(), settings)
		},
	}
}

// Print writes one row per catalog device
func Print(w io.Writer, settings *conf.Settings) error {
	specs, err := settings.DeviceSpecs()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCLASS\tMETADATA")
	for _, spec := range specs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", spec.ID, spec.Name, spec.Class, spec.Metadata)
	}
	return tw.Flush()
}
