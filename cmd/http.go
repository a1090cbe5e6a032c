package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jaffee/commandeer"
	"github.com/pilosa/erpdk/http"
	"github.com/spf13/cobra"
)

// HTTPMain holds the configuration of the http command once it has been created.
var HTTPMain *http.Main

func NewHTTPCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	HTTPMain = http.NewMain()
	com := &cobra.Command{
		Use:   "http",
		Short: "http - ingest records posted over HTTP",
		Long:  `Listens for POST requests whose bodies hold JSON records. Each request is
one batch, and the response is not sent until every record in it has been
resolved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			err = HTTPMain.Run()
			if err != nil {
				return err
			}
			fmt.Fprintf(stderr, "done: %v\n", time.Since(start))
			return nil
		},
	}
	flags := com.Flags()
	err = commandeer.Flags(flags, HTTPMain)
	if err != nil {
		panic(err)
	}
	return com
}

func init() {
	subcommandFns["http"] = NewHTTPCommand
}
