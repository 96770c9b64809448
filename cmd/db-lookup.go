/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/csweichel/thintex/pkg/thindb"
)

type lookupResult struct {
	Path   string         `json:"path"`
	Found  bool           `json:"found"`
	Record *thindb.Record `json:"record,omitempty"`
	Stat   *thindb.Stat   `json:"stat,omitempty"`
}

// dbLookupCmd represents the db lookup command
var dbLookupCmd = &cobra.Command{
	Use:   "lookup <path>...",
	Short: "Resolves paths against the cached snapshot and prints them as JSON",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		kind, err := cfg.OverlayKind()
		if err != nil {
			log.WithError(err).Fatal("invalid overlay")
		}

		overlay, err := thindb.OpenOverlay(kind, cfg.CacheDir)
		if err != nil {
			log.WithError(err).Fatal("cannot open overlay")
		}
		db, err := thindb.Open(filepath.Join(cfg.CacheDir, thindb.SnapshotFilename), overlay)
		if err != nil {
			log.WithError(err).Fatal("cannot open database")
		}
		defer db.Close()

		var res []lookupResult
		for _, p := range args {
			rec, found, err := db.Resolve(p)
			if err != nil {
				log.WithError(err).WithField("path", p).Fatal("cannot resolve path")
			}
			r := lookupResult{Path: p, Found: found}
			if found {
				stat := db.Defaults().Stat(rec)
				r.Record = &rec
				r.Stat = &stat
			}
			res = append(res, r)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(res)
		if err != nil {
			log.WithError(err).Fatal("cannot encode result")
		}
	},
}

func init() {
	dbCmd.AddCommand(dbLookupCmd)
}
