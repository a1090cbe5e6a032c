package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jaffee/commandeer"
	"github.com/pilosa/erpdk/ingest"
	"github.com/spf13/cobra"
)

// DrainMain holds the configuration of the drain command once it has been
// created.
var DrainMain *ingest.Main

func NewDrainCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	DrainMain = ingest.NewMain()
	com := &cobra.Command{
		Use:   "drain",
		Short: "drain - process the entity resolution engine's redo queue",
		Long: `Processes redo records until the engine reports that none are left,
tracking the entities they affect. No records are ingested.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			err = DrainMain.Run()
			if err != nil {
				return err
			}
			fmt.Fprintf(stderr, "done: %v\n", time.Since(start))
			return nil
		},
	}
	flags := com.Flags()
	err = commandeer.Flags(flags, DrainMain)
	if err != nil {
		panic(err)
	}
	return com
}

func init() {
	subcommandFns["drain"] = NewDrainCommand
}
