// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sharefs/lib/cli"
	"github.com/bureau-foundation/sharefs/lib/clock"
	"github.com/bureau-foundation/sharefs/lib/config"
	"github.com/bureau-foundation/sharefs/lib/provider"
	"github.com/bureau-foundation/sharefs/lib/provider/remote"
	"github.com/bureau-foundation/sharefs/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		socketPath  string
		root        string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("bureau-sharefs-host", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the share config file (default: $SHAREFS_CONFIG)")
	flagSet.StringVar(&socketPath, "socket", "", "override the configured provider socket")
	flagSet.StringVar(&root, "root", "", "override the configured directory to serve")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion {
		version.Print("bureau-sharefs-host")
		return nil
	}

	cfg, err := cli.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Provider.Socket = socketPath
	}
	if root != "" {
		cfg.Provider.Root = root
	}
	if err := validateHost(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := cli.NewLogger(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}
	logger = logger.With("share", cfg.Share)

	local, err := provider.NewLocal(cfg.Provider.Root, provider.LocalOptions{
		ReadOnly: true,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("opening share root: %w", err)
	}
	defer func() {
		if err := local.Shutdown(); err != nil {
			logger.Warn("closing share root failed", "error", err)
		}
	}()

	server, err := remote.NewServer(remote.ServerOptions{
		SocketPath:        cfg.Provider.Socket,
		Provider:          local,
		IdleHandleTimeout: cfg.Provider.IdleHandleTimeout.Std(),
		Clock:             clock.Real(),
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	logger.Info("serving share",
		"root", cfg.Provider.Root,
		"socket", cfg.Provider.Socket,
	)
	if err := server.Serve(ctx); err != nil {
		return err
	}
	logger.Info("share host stopped")
	return nil
}

// validateHost checks the fields the host needs. The config is written
// for the guest, so provider.kind names the guest's side (remote) while
// the host always serves provider.root locally.
func validateHost(cfg *config.Config) error {
	var errs []error
	if cfg.Provider.Root == "" {
		errs = append(errs, errors.New("provider.root is required"))
	}
	if cfg.Provider.Socket == "" {
		errs = append(errs, errors.New("provider.socket is required"))
	}
	if cfg.Provider.IdleHandleTimeout < 0 {
		errs = append(errs, errors.New("provider.idle_handle_timeout must not be negative"))
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level))
	}
	return errors.Join(errs...)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `bureau-sharefs-host: serve a directory to bureau-sharefs over a Unix socket

Usage: bureau-sharefs-host [--config FILE] [--socket PATH] [--root DIR]

Flags:
`)
	flagSet.PrintDefaults()
}
