package cmd

import (
	"fmt"
	"os"

	"github.com/Iron-Ham/opencore/internal/engine"
	"github.com/spf13/cobra"
)

var flagsCmd = &cobra.Command{
	Use:   "flags <content|vma|mode> <value>",
	Short: "Decode capture flag values",
	Long: `Decode a content flag, VMA filter or mode value given as names joined
by '|' or ',' or as a number, and print both forms.

For content flags the default dump name they produce is shown too.

Examples:
  opencore flags content core|pid|timestamp
  opencore flags vma 0x6
  opencore flags mode 7`,
	Args: cobra.ExactArgs(2),
	RunE: runFlags,
}

func init() {
	rootCmd.AddCommand(flagsCmd)
}

func runFlags(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	kind, value := args[0], args[1]

	switch kind {
	case "content":
		flags, err := engine.ParseContentFlags(value)
		if err != nil {
			return err
		}
		info := engine.CurrentNameInfo(os.Getpid())
		fmt.Fprintln(out, field("flags", flags))
		fmt.Fprintln(out, field("value", fmt.Sprintf("0x%x", uint32(flags))))
		fmt.Fprintln(out, field("example", engine.DefaultFilename("", flags, info)))
	case "vma":
		filter, err := engine.ParseVMAFilter(value)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, field("filters", filter))
		fmt.Fprintln(out, field("value", fmt.Sprintf("0x%x", uint32(filter))))
	case "mode":
		mode, err := engine.ParseMode(value)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, field("mode", mode))
		fmt.Fprintln(out, field("value", uint32(mode)))
	default:
		return fmt.Errorf("unknown flag kind %q (want content, vma or mode)", kind)
	}
	return nil
}
