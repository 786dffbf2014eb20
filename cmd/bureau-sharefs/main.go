// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sharefs/lib/cli"
	"github.com/bureau-foundation/sharefs/lib/clock"
	"github.com/bureau-foundation/sharefs/lib/config"
	"github.com/bureau-foundation/sharefs/lib/provider"
	"github.com/bureau-foundation/sharefs/lib/provider/remote"
	"github.com/bureau-foundation/sharefs/lib/sharefs"
	"github.com/bureau-foundation/sharefs/lib/sharefs/fuse"
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
		mountpoint  string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("bureau-sharefs", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the share config file (default: $SHAREFS_CONFIG)")
	flagSet.StringVar(&mountpoint, "mountpoint", "", "override the configured mountpoint")
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
		version.Print("bureau-sharefs")
		return nil
	}

	cfg, err := cli.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if mountpoint != "" {
		cfg.Mountpoint = mountpoint
	}
	if err := cfg.ValidateMount(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := cli.NewLogger(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}
	logger = logger.With("share", cfg.Share)

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	share, closeProvider, err := openProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeProvider()
	logger.Info("provider opened", "kind", cfg.Provider.Kind)

	server, err := fuse.Mount(ctx, fuse.Options{
		Mountpoint:   cfg.Mountpoint,
		FsName:       cfg.Share,
		Share:        shareOptions(cfg, share, logger),
		EntryTimeout: cfg.Lookup.EntryTimeout.Std(),
		AllowOther:   cfg.FUSE.AllowOther,
		Debug:        cfg.FUSE.Debug,
		Logger:       logger,

		DisableReadDirPlus: !cfg.Lookup.Deduplicate,
	})
	if err != nil {
		return err
	}

	// The kernel side can go away without a signal (fusermount -u), so
	// wait on whichever comes first.
	served := make(chan struct{})
	go func() {
		server.Wait()
		close(served)
	}()
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-served:
		logger.Info("filesystem unmounted externally")
	}

	if err := server.Unmount(); err != nil {
		logger.Error("unmount failed", "error", err)
	}

	stats := server.Share().Stats()
	logger.Info("share released",
		"nodes_created", stats.NodesCreated,
		"nodes_destroyed", stats.NodesDestroyed,
		"handle_allocations", stats.HandleAllocations,
		"attribute_fetches", stats.AttributeFetches,
		"directory_fetches", stats.DirectoryFetches,
	)
	return nil
}

// openProvider builds the provider named by the config. The returned
// function releases it.
func openProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider.Provider, func(), error) {
	switch cfg.Provider.Kind {
	case config.ProviderLocal:
		local, err := provider.NewLocal(cfg.Provider.Root, provider.LocalOptions{
			ReadOnly: true,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening share root: %w", err)
		}
		return local, func() {
			if err := local.Shutdown(); err != nil {
				logger.Warn("closing share root failed", "error", err)
			}
		}, nil

	case config.ProviderRemote:
		compression, err := remote.ParseCompression(cfg.Provider.Compression)
		if err != nil {
			return nil, nil, err
		}
		client := remote.NewClient(remote.ClientOptions{
			SocketPath:  cfg.Provider.Socket,
			Compression: compression,
		})
		if err := client.Ping(ctx); err != nil {
			return nil, nil, fmt.Errorf("reaching share host at %s: %w", cfg.Provider.Socket, err)
		}
		return client, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}
}

// shareOptions maps the config onto mount options.
func shareOptions(cfg *config.Config, share provider.Provider, logger *slog.Logger) sharefs.Options {
	return sharefs.Options{
		Provider:    share,
		StatTTL:     cfg.Attributes.StatTTL.Std(),
		UID:         cfg.Attributes.UID,
		GID:         cfg.Attributes.GID,
		DirMode:     uint32(cfg.Attributes.DirMode),
		FileMode:    uint32(cfg.Attributes.FileMode),
		DirMask:     uint32(cfg.Attributes.DirMask),
		FileMask:    uint32(cfg.Attributes.FileMask),
		Deduplicate: cfg.Lookup.Deduplicate,
		MaxBuffers:  cfg.Lookup.DirectoryCacheChunks,
		Clock:       clock.Real(),
		Logger:      logger,
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `bureau-sharefs: mount a shared folder read-only over FUSE

Usage: bureau-sharefs [--config FILE] [--mountpoint DIR]

The config file is named by --config or SHAREFS_CONFIG.

Flags:
`)
	flagSet.PrintDefaults()
}
