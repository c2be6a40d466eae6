package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/unklstewy/skycapture/internal/devices"
	"github.com/unklstewy/skycapture/internal/logging"
	"github.com/unklstewy/skycapture/pkg/coordinates"
)

func newDevicesCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Check that every configured Alpaca device answers",
		Long: `Connect to each device bound in the alpaca section of the configuration,
print its driver name and disconnect again. Nothing is moved or exposed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging, root.version)
			observer := coordinates.NewObserver(cfg.Observer.Latitude, cfg.Observer.Longitude, cfg.Observer.Elevation)
			bridge := devices.NewBridge(cfg.Alpaca, observer, logger.Logger)
			defer bridge.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Alpaca server: %s\n\n", cfg.Alpaca.BaseURL)

			results := bridge.Survey(cmd.Context())
			failed := 0
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROLE\tDEVICE\tNAME\tSTATUS")
			for _, r := range results {
				status := "ok"
				if r.Err != nil {
					failed++
					status = r.Err.Error()
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.Role, r.Number, r.Name, status)
			}
			tw.Flush()

			if failed > 0 {
				return fmt.Errorf("%d of %d devices unreachable", failed, len(results))
			}
			return nil
		},
	}
}
