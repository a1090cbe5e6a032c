package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jaffee/commandeer"
	"github.com/pilosa/erpdk/kafka"
	"github.com/spf13/cobra"
)

// KafkaMain holds the configuration of the kafka command once it has been created.
var KafkaMain *kafka.Main

func NewKafkaCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	KafkaMain = kafka.NewMain()
	com := &cobra.Command{
		Use:   "kafka",
		Short: "kafka - ingest records from Kafka",
		Long:  `Consumes JSON or schema registry Avro messages from Kafka topics in
micro-batches. Offsets are marked once a batch has been resolved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			err = KafkaMain.Run()
			if err != nil {
				return err
			}
			fmt.Fprintf(stderr, "done: %v\n", time.Since(start))
			return nil
		},
	}
	flags := com.Flags()
	err = commandeer.Flags(flags, KafkaMain)
	if err != nil {
		panic(err)
	}
	return com
}

func init() {
	subcommandFns["kafka"] = NewKafkaCommand
}
