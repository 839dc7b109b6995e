// perfkitd hosts a counter registry and exposes it over HTTP, an
// interactive console and periodic journal and Parquet snapshots.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/perfkit/internal/config"
	"github.com/xtxerr/perfkit/internal/errors"
	"github.com/xtxerr/perfkit/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "perfkit.yaml", "config file path")
	listen := flag.String("listen", "", "exporter listen address (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	interactive := flag.Bool("console", false, "run the interactive console")
	dumpConfig := flag.Bool("dump-config", false, "print the effective configuration and exit")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("perfkitd", Version)
		return
	}

	store, err := loadStore(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfkitd: %v\n", err)
		os.Exit(int(errors.ErrorToCode(err)))
	}

	// CLI overrides
	if *listen != "" {
		store.Set("exporter", "listen", *listen)
	}
	if *logLevel != "" {
		store.Set("core", "log_level", *logLevel)
	}
	if *interactive {
		store.Set("console", "enabled", "true")
	}

	st, err := config.ReadSettings(store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfkitd: invalid configuration:\n%v\n", err)
		os.Exit(int(errors.CodeInvalidRequest))
	}

	if *dumpConfig {
		store.Dump(os.Stdout)
		return
	}

	logging.Init(logging.Options{Level: st.Core.LogLevel, Format: st.Core.LogFormat})
	logging.Info("perfkitd starting", "version", Version, "config", *cfgPath)

	d, err := newDaemon(st, store)
	if err != nil {
		logging.Fatal("startup failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.run(ctx); err != nil {
		logging.Error("perfkitd failed", "error", err)
		os.Exit(1)
	}
}

// loadStore loads the configuration file. A missing file yields an empty
// store, so every setting takes its default.
func loadStore(path string) (*config.Store, error) {
	store, err := config.Load(path)
	if err == nil {
		return store, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return config.New(), nil
	}
	return nil, err
}
