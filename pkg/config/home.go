package config

import (
	"os"
	"path/filepath"
	"sync"
)

// HomeEnv names the environment variable that pins the uxflow home.
const HomeEnv = "UXFLOW_HOME"

// home is resolved once per process; tests swap it through ResetHome.
var home = sync.OnceValue(resolveHome)

// Home is the directory holding uxflow's default output. It is $UXFLOW_HOME
// when set, the install root when the binary lives in <root>/bin, and the
// working directory otherwise.
func Home() string {
	return home()
}

// DefaultOutputDir is where runs write artifacts when no output is set.
func DefaultOutputDir() string {
	return filepath.Join(Home(), "output")
}

func resolveHome() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	if exe, err := os.Executable(); err == nil {
		if root, ok := installRoot(exe); ok {
			return root
		}
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// installRoot maps <root>/bin/uxflow to <root>, following symlinks.
func installRoot(exe string) (string, bool) {
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	dir := filepath.Dir(exe)
	if filepath.Base(dir) != "bin" {
		return "", false
	}
	return filepath.Dir(dir), true
}

// ResetHome drops the resolved home so the next call re-reads the
// environment.
func ResetHome() {
	home = sync.OnceValue(resolveHome)
}
