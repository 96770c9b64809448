// Package engine runs a WASI build of a TeX engine against the thin
// filesystem.
package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const (
	// TexLiveRoot is where the distribution appears inside the guest.
	TexLiveRoot = "/app/texlive"
	// WorkingDir is where the host working directory appears inside the guest.
	WorkingDir = "/app/working"
)

// DefaultProgram is the program name passed as argv[0]. kpathsea derives
// the format to load from it.
const DefaultProgram = "pdflatex"

// Options configure a run.
type Options struct {
	// WASM is the compiled engine.
	WASM []byte
	// Program is argv[0], defaults to DefaultProgram.
	Program string
	Args    []string
	// Env is added to, and overrides, TexLiveEnv.
	Env map[string]string

	// TexLive is the distribution. LocalTexLive mounts a host directory
	// instead and takes precedence.
	TexLive      fs.FS
	LocalTexLive string
	// WorkDir is the host directory documents are compiled in.
	WorkDir string

	// CompilationCacheDir keeps the compiled engine across runs if set.
	CompilationCacheDir string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// TexLiveEnv points kpathsea at the distribution mounted at TexLiveRoot.
func TexLiveEnv() map[string]string {
	return map[string]string{
		"TEXMFCNF":       TexLiveRoot + "/:" + TexLiveRoot + "/texmf-dist/web2c/",
		"TEXMFROOT":      TexLiveRoot,
		"TEXMFLOCAL":     TexLiveRoot + "/texmf-local",
		"TEXMFDIST":      TexLiveRoot + "/texmf-dist",
		"TEXMFSYSVAR":    TexLiveRoot + "/texmf-var",
		"TEXMFSYSCONFIG": TexLiveRoot + "/texmf-config",
		"TEXMFVAR":       TexLiveRoot + "/user-texmf-var",
		"PWD":            WorkingDir,
	}
}

// Run instantiates the engine and waits for it to exit. A non-zero exit of
// the guest is reported through the exit code, not as an error.
func Run(ctx context.Context, opts Options) (exitCode int, err error) {
	if opts.TexLive == nil && opts.LocalTexLive == "" {
		return 0, fmt.Errorf("no TeX distribution to mount")
	}
	if opts.Program == "" {
		opts.Program = DefaultProgram
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	rtc := wazero.NewRuntimeConfig()
	if opts.CompilationCacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(opts.CompilationCacheDir)
		if err != nil {
			return 0, fmt.Errorf("cannot open compilation cache: %w", err)
		}
		defer cache.Close(ctx)
		rtc = rtc.WithCompilationCache(cache)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rtc)
	defer rt.Close(ctx)

	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	code, err := rt.CompileModule(ctx, opts.WASM)
	if err != nil {
		return 0, fmt.Errorf("cannot compile engine: %w", err)
	}

	// Relative paths resolve against the guest root, so the working
	// directory is mounted there as well.
	fsConfig := wazero.NewFSConfig().
		WithDirMount(opts.WorkDir, "/").
		WithDirMount(opts.WorkDir, WorkingDir)
	if opts.LocalTexLive != "" {
		log.WithField("path", opts.LocalTexLive).Info("mounting local TeX distribution")
		fsConfig = fsConfig.WithReadOnlyDirMount(opts.LocalTexLive, TexLiveRoot)
	} else {
		fsConfig = fsConfig.WithFSMount(opts.TexLive, TexLiveRoot)
	}

	conf := wazero.NewModuleConfig().
		WithStdin(opts.Stdin).
		WithStdout(opts.Stdout).
		WithStderr(opts.Stderr).
		WithRandSource(rand.Reader).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithFSConfig(fsConfig).
		WithArgs(append([]string{opts.Program}, opts.Args...)...)
	for _, kv := range mergeEnv(TexLiveEnv(), opts.Env) {
		conf = conf.WithEnv(kv[0], kv[1])
	}

	log.WithField("program", opts.Program).WithField("args", opts.Args).Debug("starting engine")
	mod, err := rt.InstantiateModule(ctx, code, conf)
	if mod != nil {
		defer mod.Close(ctx)
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return int(exitErr.ExitCode()), nil
	}
	return 0, err
}

// mergeEnv overlays override on base and returns the pairs sorted by key.
func mergeEnv(base, override map[string]string) [][2]string {
	env := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		env[k] = v
	}
	for k, v := range override {
		env[k] = v
	}

	res := make([][2]string, 0, len(env))
	for k, v := range env {
		res = append(res, [2]string{k, v})
	}
	sort.Slice(res, func(i, j int) bool { return res[i][0] < res[j][0] })
	return res
}

