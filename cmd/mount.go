/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sevlyar/go-daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/csweichel/thintex/pkg/config"
	"github.com/csweichel/thintex/pkg/thinfs"
)

var mountOpts struct {
	AllowOther  bool
	Daemon      bool
	MetricsAddr string
}

// mountCmd represents the mount command
var mountCmd = &cobra.Command{
	Use:   "mount <mountpoint>",
	Short: "Mounts the thin filesystem using FUSE",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		var dctx *daemon.Context
		if mountOpts.Daemon {
			dctx = &daemon.Context{
				PidFileName: filepath.Join(cfg.CacheDir, "thintex.pid"),
				PidFilePerm: 0644,
				LogFileName: filepath.Join(cfg.CacheDir, "thintex.log"),
				LogFilePerm: 0640,
				Umask:       027,
			}
			child, err := dctx.Reborn()
			if err != nil {
				log.WithError(err).Fatal("cannot start daemon")
			}
			if child != nil {
				fmt.Printf("started daemon with PID %d\n", child.Pid)
				return
			}
		}

		err := serveFuse(cfg, args[0])
		if dctx != nil {
			dctx.Release()
		}
		if err != nil {
			log.WithError(err).Fatal("cannot serve thin filesystem")
		}
	},
}

// serveFuse mounts the thin filesystem at mnt and blocks until it is
// unmounted. The cache directory is unlocked again when it returns.
func serveFuse(cfg *config.Config, mnt string) error {
	t0 := time.Now()
	f, err := mountThinFS(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("cannot mount thin filesystem: %w", err)
	}
	defer f.Unmount()

	server, err := thinfs.MountFuse(mnt, f, thinfs.FuseOptions{
		Debug:      rootOpts.Verbose,
		AllowOther: mountOpts.AllowOther,
	})
	if err != nil {
		return fmt.Errorf("cannot mount FUSE filesystem: %w", err)
	}
	fmt.Printf("mounted in %v\n", time.Since(t0))
	fmt.Printf("to unmount: fusermount -u %s\n", mnt)
	server.Wait()
	return nil
}

// mountThinFS prepares the cache directory and serves metrics if requested.
func mountThinFS(ctx context.Context, cfg *config.Config) (*thinfs.FS, error) {
	codec, err := cfg.Codec()
	if err != nil {
		return nil, err
	}
	overlay, err := cfg.OverlayKind()
	if err != nil {
		return nil, err
	}

	metrics := thinfs.NewMetrics()
	if mountOpts.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		err = metrics.Register(reg)
		if err != nil {
			return nil, err
		}
		go func() {
			err := http.ListenAndServe(mountOpts.MetricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err != nil {
				log.WithError(err).Error("metrics server failed")
			}
		}()
	}

	return thinfs.Mount(ctx, thinfs.Options{
		CacheDir:  cfg.CacheDir,
		RemoteURL: cfg.RemoteURL,
		Codec:     codec,
		Overlay:   overlay,
		Bridge:    newBridge(cfg),
		Metrics:   metrics,
	})
}

func init() {
	rootCmd.AddCommand(mountCmd)
	mountCmd.Flags().BoolVar(&mountOpts.AllowOther, "allow-other", false, "allow other users to access the mount")
	mountCmd.Flags().BoolVar(&mountOpts.Daemon, "daemon", false, "detach and keep running in the background")
	mountCmd.Flags().StringVar(&mountOpts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}
