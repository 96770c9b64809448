/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/csweichel/thintex/pkg/engine"
	"github.com/csweichel/thintex/pkg/thinfs"
)

var runOpts struct {
	WASM    string
	Program string
	WorkDir string
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:     "run [flags] -- <engine args>",
	Short:   "Runs the WASM TeX engine against the thin filesystem",
	Example: "  thintex run --wasm pdftex.wasm -- -interaction=nonstopmode main.tex",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if runOpts.WASM != "" {
			cfg.Engine.WASM = runOpts.WASM
		}
		if runOpts.Program != "" {
			cfg.Engine.Program = runOpts.Program
		}
		if cfg.Engine.WASM == "" {
			log.Fatal("no engine given, use --wasm or engine.wasm in the config")
		}

		wasm, err := os.ReadFile(cfg.Engine.WASM)
		if err != nil {
			log.WithError(err).Fatal("cannot read engine")
		}

		env := make(map[string]string, len(cfg.Engine.Env)+1)
		for k, v := range cfg.Engine.Env {
			env[k] = v
		}
		if v, ok := os.LookupEnv("KPATHSEA_DEBUG"); ok {
			env["KPATHSEA_DEBUG"] = v
		}

		opts := engine.Options{
			WASM:                wasm,
			Program:             cfg.Engine.Program,
			Args:                args,
			Env:                 env,
			WorkDir:             runOpts.WorkDir,
			CompilationCacheDir: filepath.Join(cfg.CacheDir, "wazero"),
		}

		ctx := context.Background()
		var f *thinfs.FS
		if cfg.Engine.LocalMount != "" {
			opts.LocalTexLive = cfg.Engine.LocalMount
		} else {
			f, err = mountThinFS(ctx, cfg)
			if err != nil {
				log.WithError(err).Fatal("cannot mount thin filesystem")
			}
			opts.TexLive = thinfs.IOFS(f)
		}

		code, err := engine.Run(ctx, opts)
		if f != nil {
			f.Unmount()
		}
		if err != nil {
			log.WithError(err).Fatal("cannot run engine")
		}
		if code != 0 {
			log.WithField("exitCode", code).Warn("engine failed")
			os.Exit(code)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runOpts.WASM, "wasm", "", "path to the engine's WASM binary")
	runCmd.Flags().StringVar(&runOpts.Program, "program", "", "program name passed as argv[0] (default "+engine.DefaultProgram+")")
	runCmd.Flags().StringVarP(&runOpts.WorkDir, "workdir", "C", ".", "directory the document is compiled in")
}
