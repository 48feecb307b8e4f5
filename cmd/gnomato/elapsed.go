package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gitter-badger/gnomato/internal/config"
	"github.com/gitter-badger/gnomato/internal/ipc"
	"github.com/godbus/dbus/v5"
)

func runElapsedCommand(ctx context.Context, args []string, stdout io.Writer) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: gnomato elapsed")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	callCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	elapsed, err := ipc.QueryElapsed(callCtx, ipc.Config{
		Name:       cfg.Bus.Name,
		ObjectPath: dbus.ObjectPath(cfg.Bus.ObjectPath),
		Interface:  cfg.Bus.Interface,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "elapsed: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, elapsed)
	return 0
}
