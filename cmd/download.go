/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/csweichel/thintex/pkg/fetch"
)

var downloadOpts struct {
	Timeout time.Duration
}

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download <url> <dest> <codec> [digest]",
	Short: "Downloads and verifies a single object. Used by the subprocess bridge.",
	Args:  cobra.RangeArgs(3, 4),
	Run: func(cmd *cobra.Command, args []string) {
		codec, err := fetch.ParseCodec(args[2])
		if err != nil {
			log.WithError(err).Fatal("invalid codec")
		}
		req := fetch.Request{
			URL:   args[0],
			Dest:  args[1],
			Codec: codec,
		}
		if len(args) == 4 {
			req.Digest, err = fetch.ParseDigest(args[3])
			if err != nil {
				log.WithError(err).Fatal("invalid digest")
			}
		}

		d := &fetch.Downloader{Client: &http.Client{Timeout: downloadOpts.Timeout}}
		err = d.Download(context.Background(), req)
		if err != nil {
			log.WithError(err).WithField("url", req.URL).Fatal("download failed")
		}
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().DurationVar(&downloadOpts.Timeout, "timeout", 0, "timeout for the download, zero means none")
}
