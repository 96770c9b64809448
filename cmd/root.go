/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/csweichel/thintex/pkg/config"
	"github.com/csweichel/thintex/pkg/fetch"
)

var rootOpts struct {
	Verbose bool
	Config  string

	CacheDir    string
	RemoteURL   string
	Compression string
	Overlay     string
	Bridge      string
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "thintex",
	Short: "Serves a remote TeX distribution as a lazily loaded filesystem",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if rootOpts.Verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootOpts.Verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&rootOpts.Config, "config", "", "config file (defaults to thintex.yaml in the cache directory)")
	rootCmd.PersistentFlags().StringVar(&rootOpts.CacheDir, "cache-dir", "", "cache directory (overrides $"+config.EnvCacheDir+")")
	rootCmd.PersistentFlags().StringVar(&rootOpts.RemoteURL, "remote-url", "", "base URL of the remote store (overrides $"+config.EnvRemoteURL+")")
	rootCmd.PersistentFlags().StringVar(&rootOpts.Compression, "compression", "", "codec of remote objects: none, gzip, zstd or lz4")
	rootCmd.PersistentFlags().StringVar(&rootOpts.Overlay, "overlay", "", "overlay store: json or badger")
	rootCmd.PersistentFlags().StringVar(&rootOpts.Bridge, "bridge", "", "how bodies are downloaded: inprocess or subprocess")
}

// loadConfig reads the configuration and applies the command line overrides.
func loadConfig() *config.Config {
	cfg, err := config.Load(rootOpts.Config)
	if err != nil {
		log.WithError(err).Fatal("cannot load config")
	}
	for _, o := range []struct {
		Flag string
		Dst  *string
	}{
		{rootOpts.CacheDir, &cfg.CacheDir},
		{rootOpts.RemoteURL, &cfg.RemoteURL},
		{rootOpts.Compression, &cfg.Compression},
		{rootOpts.Overlay, &cfg.Overlay},
		{rootOpts.Bridge, &cfg.Bridge},
	} {
		if o.Flag != "" {
			*o.Dst = o.Flag
		}
	}

	err = cfg.Validate()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	log.WithField("cacheDir", cfg.CacheDir).WithField("remote", cfg.RemoteURL).Debug("loaded config")
	return cfg
}

func newBridge(cfg *config.Config) fetch.Bridge {
	if cfg.Bridge == config.BridgeSubprocess {
		self, err := os.Executable()
		if err != nil {
			log.WithError(err).Fatal("cannot find own executable")
		}
		return &fetch.Subprocess{
			Executable: self,
			Args:       []string{"download"},
		}
	}
	return &fetch.InProcess{
		Downloader: &fetch.Downloader{Client: &http.Client{Timeout: cfg.HTTPTimeout}},
	}
}
