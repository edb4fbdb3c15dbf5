// Command govfat inspects and modifies FAT12/16/32 images.
package main

import (
	"os"

	"github.com/aligator/govfat"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	osFs       = afero.NewOsFs()
	skipChecks bool
)

func newCmd() *cobra.Command {
	var verbose int

	cmd := &cobra.Command{
		Use:          "govfat",
		Short:        "inspect and modify FAT images",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case verbose <= 0:
				log.SetLevel(log.WarnLevel)
			case verbose == 1:
				log.SetLevel(log.InfoLevel)
			default:
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
	}

	cmd.AddCommand(infoCmd())
	cmd.AddCommand(lsCmd())
	cmd.AddCommand(catCmd())
	cmd.AddCommand(treeCmd())
	cmd.AddCommand(mkfsCmd())
	cmd.AddCommand(orphansCmd())

	cmd.PersistentFlags().IntVarP(&verbose, "verbose", "v", 1, "Verbosity of logging: 0 = warnings only, 1 = info, 2 = debug")
	cmd.PersistentFlags().BoolVar(&skipChecks, "skip-checks", false, "Skip some boot sector validations to open not perfectly standard images")

	return cmd
}

// openImage mounts the image at path.
func openImage(path string, writable bool) (*govfat.Volume, error) {
	opts := []govfat.Option{govfat.WithLogger(log.StandardLogger())}
	if !writable {
		opts = append(opts, govfat.ReadOnly())
	}
	if skipChecks {
		opts = append(opts, govfat.SkipChecks())
	}
	return govfat.OpenFile(osFs, path, opts...)
}

func main() {
	if err := newCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
