package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/csweichel/thintex/pkg/fetch"
	"github.com/csweichel/thintex/pkg/thindb"
)

var dbGenerateOpts struct {
	Compression     string
	MinDefaultCount int
}

// dbGenerateCmd represents the db generate command
var dbGenerateCmd = &cobra.Command{
	Use:   "generate <dst> <src.tar>",
	Short: "Produces a remote store layout from a tar file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		codec, err := fetch.ParseCodec(dbGenerateOpts.Compression)
		if err != nil {
			log.WithError(err).Fatal("invalid compression")
		}

		in, err := os.Open(args[1])
		if err != nil {
			log.WithError(err).Fatal("cannot open source file")
		}
		defer in.Close()

		snap, err := thindb.ProduceSnapshotFromTar(args[0], in, thindb.GenerateOptions{
			Codec:           codec,
			MinDefaultCount: dbGenerateOpts.MinDefaultCount,
		})
		if err != nil {
			log.WithError(err).Fatal("cannot produce snapshot")
		}
		log.WithField("records", len(snap.Records)).WithField("dst", args[0]).Info("snapshot produced")
	},
}

func init() {
	dbCmd.AddCommand(dbGenerateCmd)
	dbGenerateCmd.Flags().StringVar(&dbGenerateOpts.Compression, "compression", string(fetch.CodecGzip), "codec of the produced objects")
	dbGenerateCmd.Flags().IntVar(&dbGenerateOpts.MinDefaultCount, "min-default-count", 100, "minimum number of records sharing a value for it to become the default")
}
