package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jaffee/commandeer"
	"github.com/pilosa/erpdk/file"
	"github.com/spf13/cobra"
)

// FileMain holds the configuration of the file command once it has been created.
var FileMain *file.Main

func NewFileCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	FileMain = file.NewMain()
	com := &cobra.Command{
		Use:   "file",
		Short: "file - ingest JSON lines or CSV files as they appear in a directory",
		Long:  `Watches a directory and submits the records of each new file to the
entity resolution engine. Files are picked up in name order, a limited
number per batch, and checkpointed once every record in them has been
resolved. Write files under a hidden or .tmp name and rename them when
complete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			err = FileMain.Run()
			if err != nil {
				return err
			}
			fmt.Fprintf(stderr, "done: %v\n", time.Since(start))
			return nil
		},
	}
	flags := com.Flags()
	err = commandeer.Flags(flags, FileMain)
	if err != nil {
		panic(err)
	}
	return com
}

func init() {
	subcommandFns["file"] = NewFileCommand
}
