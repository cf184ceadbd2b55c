package cmd

import (
	"fmt"

	"github.com/Iron-Ham/opencore/internal/logging"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../internal/cmd.Version=...".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the opencore and capture engine versions",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, field("opencore", Version))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cd, err := openCoredump(cfg, nil, logging.NopLogger())
	if err != nil {
		fmt.Fprintln(out, field("engine", mutedStyle.Render("unavailable")))
		return nil
	}
	defer cd.Close()

	fmt.Fprintln(out, field("engine", cd.Version()))
	return nil
}
