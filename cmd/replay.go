package cmd

import (
	"io"

	"github.com/jaffee/commandeer"
	"github.com/pilosa/erpdk/file"
	"github.com/spf13/cobra"
)

// ReplayMain holds the configuration of the replay command once it has been
// created.
var ReplayMain *file.ReplayMain

func NewReplayCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	ReplayMain = file.NewReplayMain()
	com := &cobra.Command{
		Use:   "replay",
		Short: "replay - copy files into a watched directory over time",
		Long: `Copies split files into the directory watched by the file command at a
limited rate, simulating records which arrive as a stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ReplayMain.Run()
		},
	}
	flags := com.Flags()
	err = commandeer.Flags(flags, ReplayMain)
	if err != nil {
		panic(err)
	}
	return com
}

func init() {
	subcommandFns["replay"] = NewReplayCommand
}
