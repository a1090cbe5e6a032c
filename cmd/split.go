package cmd

import (
	"io"

	"github.com/jaffee/commandeer"
	"github.com/pilosa/erpdk/file"
	"github.com/spf13/cobra"
)

// SplitMain holds the configuration of the split command once it has been
// created.
var SplitMain *file.SplitMain

func NewSplitCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	SplitMain = file.NewSplitMain()
	com := &cobra.Command{
		Use:   "split",
		Short: "split - split a dataset into small files for replay",
		Long: `Downloads a JSON lines or CSV dataset if it is given as an http(s):// or
s3:// URL, then splits it into numbered files of at most lines-per-file
records. CSV files each get a copy of the header line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return SplitMain.Run()
		},
	}
	flags := com.Flags()
	err = commandeer.Flags(flags, SplitMain)
	if err != nil {
		panic(err)
	}
	return com
}

func init() {
	subcommandFns["split"] = NewSplitCommand
}
