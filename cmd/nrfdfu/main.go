// Command nrfdfu updates Nordic Secure DFU accessories over Bluetooth LE.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/moffa90/go-nrfdfu/dfu"
	"github.com/moffa90/go-nrfdfu/internal/bluez"
	"github.com/moffa90/go-nrfdfu/internal/config"
	"github.com/moffa90/go-nrfdfu/internal/logger"
	"github.com/moffa90/go-nrfdfu/internal/simulator"
	"github.com/moffa90/go-nrfdfu/updater"
)

// packagePrefix names the packages picked up from a firmware directory.
const packagePrefix = "helios"

type cliFlags struct {
	configPath string
	addresses  string
	pkgPath    string
	installed  string
	simulate   bool
}

func main() {
	var flags cliFlags
	flag.StringVar(&flags.configPath, "config", "nrfdfu.yaml", "config file path")
	flag.StringVar(&flags.addresses, "address", "", "comma-separated accessory addresses (required)")
	flag.StringVar(&flags.pkgPath, "package", "", "DFU package, or a directory holding "+packagePrefix+"_<version>.zip")
	flag.StringVar(&flags.installed, "installed-version", "", "firmware version the accessories report; equal versions are skipped")
	flag.BoolVar(&flags.simulate, "simulate", false, "update a simulated accessory instead of using BlueZ")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: nrfdfu -address AA:BB:CC:DD:EE:FF -package app.zip [flags]\n\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nEnvironment: NRFDFU_* variables override the config file.\n")
	}
	flag.Parse()

	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "nrfdfu: %v\n", err)
		os.Exit(1)
	}
}

func run(flags cliFlags) error {
	addresses := splitAddresses(flags.addresses)
	if len(addresses) == 0 {
		flag.Usage()
		return errors.New("-address is required")
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.pkgPath != "" {
		cfg.Updater.Package = flags.pkgPath
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	pkg, err := resolvePackage(cfg.Updater)
	if err != nil {
		return err
	}

	cm, closeCM, err := connectionManager(cfg, flags.simulate, addresses, log)
	if err != nil {
		return err
	}
	defer closeCM()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var u *updater.Updater
	progress := newProgressLogger(log)
	eng := dfu.New(cm,
		dfu.WithLogger(log),
		dfu.WithTimeout(cfg.DFU.Timeout),
		dfu.WithConnectDelay(cfg.DFU.ConnectDelay),
		dfu.WithMaxConnectAttempts(cfg.DFU.MaxConnectAttempts),
		dfu.WithPacketSize(cfg.DFU.PacketSize),
		dfu.WithFirmwarePacketsPerNotification(uint16(cfg.DFU.FirmwarePacketsPerNotification)),
		dfu.WithProgressCallback(progress.report),
		dfu.WithResultCallback(func(r dfu.Result) { u.HandleResult(r) }),
	)
	u = updater.New(eng, pkg, updater.WithLogger(log))

	go func() {
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("dfu engine stopped", "error", err)
		}
	}()
	go func() { _ = u.Run(ctx) }()

	log.Info("updating accessories", "count", len(addresses), "package", pkg.Path, "version", pkg.Version)
	for _, addr := range addresses {
		u.Add(updater.Accessory{Address: addr, Version: flags.installed})
	}

	if err := u.Wait(ctx); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	return summarize(u, addresses, log)
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolvePackage finds the package file and the version it installs.
func resolvePackage(cfg config.UpdaterConfig) (updater.Package, error) {
	if cfg.Package == "" {
		return updater.Package{}, errors.New("no package: set -package or updater.package")
	}

	info, err := os.Stat(cfg.Package)
	if err != nil {
		return updater.Package{}, fmt.Errorf("package: %w", err)
	}
	if info.IsDir() {
		return updater.FindPackage(cfg.Package, packagePrefix)
	}
	if cfg.Version != "" {
		return updater.Package{Path: cfg.Package, Version: cfg.Version}, nil
	}

	pkg, err := updater.ParsePackageName(cfg.Package)
	if err != nil {
		return updater.Package{}, fmt.Errorf("%w; set updater.version", err)
	}
	return pkg, nil
}

func connectionManager(cfg *config.Config, simulate bool, addresses []string, log *slog.Logger) (dfu.ConnectionManager, func(), error) {
	if simulate {
		if len(addresses) != 1 {
			return nil, nil, errors.New("-simulate supports a single address")
		}
		sim, err := simulator.New(addresses[0])
		if err != nil {
			return nil, nil, err
		}
		log.Info("using simulated accessory", "address", addresses[0], "target", sim.Target())
		return sim, sim.Close, nil
	}

	m, err := bluez.New(
		bluez.WithAdapter(cfg.Bluetooth.Adapter),
		bluez.WithAddressType(cfg.Bluetooth.AddressType),
		bluez.WithWriteRate(cfg.Bluetooth.WriteRate, cfg.Bluetooth.WriteBurst),
		bluez.WithLogger(log),
	)
	if err != nil {
		return nil, nil, err
	}
	return m, func() { _ = m.Close() }, nil
}

func summarize(u *updater.Updater, addresses []string, log *slog.Logger) error {
	failed := 0
	for _, addr := range addresses {
		r, ok := u.Result(addr)
		switch {
		case !ok:
			log.Info("accessory not updated", "address", addr)
		case r.Success():
			log.Info("accessory up to date", "address", addr, "elapsed", r.ElapsedTime)
		default:
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d accessories failed to update", failed, len(addresses))
	}
	return nil
}
