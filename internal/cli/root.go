// Package cli implements the skycapture command line: the capture daemon,
// offline sequence tools and terminal monitors for a running daemon.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/unklstewy/skycapture/internal/auth"
	"github.com/unklstewy/skycapture/internal/capture"
	"github.com/unklstewy/skycapture/pkg/config"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "configs/config.json"

// Root carries state shared by all subcommands.
type Root struct {
	version    string
	configPath string
}

// NewRootCmd creates the root Cobra command.
func NewRootCmd(version string) *cobra.Command {
	root := &Root{version: version}

	rootCmd := &cobra.Command{
		Use:   "skycapture",
		Short: "Skycapture runs astrophotography capture sequences",
		Long: `Skycapture drives an Alpaca camera, filter wheel, mount and accessories
through a queue of capture jobs, with guiding, autofocus, meridian flip and
flat calibration handled between frames.`,
		SilenceUsage: true,
	}
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	rootCmd.PersistentFlags().StringVarP(&root.configPath, "config", "c", configPath, "configuration file (env CONFIG_PATH)")

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newValidateCmd(root))
	rootCmd.AddCommand(newEstimateCmd(root))
	rootCmd.AddCommand(newMonitorCmd(root))
	rootCmd.AddCommand(newQueueCmd(root))
	rootCmd.AddCommand(newDevicesCmd(root))
	rootCmd.AddCommand(newHashPasswordCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func (r *Root) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// loadPlan loads a sequence file into a device-less sequencer so the queue
// can be inspected without hardware.
func loadPlan(cfg *config.Config, path string) (*capture.Sequencer, error) {
	seq := capture.NewSequencer(capture.Options{
		Capture: cfg.Capture,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := seq.LoadSequence(path); err != nil {
		return nil, err
	}
	return seq, nil
}

func newHashPasswordCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for auth.admin_password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("skycapture %s\n", root.version)
		},
	}
}
