package ipc

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// ConnectSession opens a private connection to the session bus.
func ConnectSession(ctx context.Context) (*dbus.Conn, error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return conn, nil
}

// QueryElapsed calls GetElapsedTime on the instance that owns cfg.Name.
func QueryElapsed(ctx context.Context, cfg Config) (string, error) {
	cfg = cfg.withDefaults()
	conn, err := ConnectSession(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return callElapsed(ctx, conn.Object(cfg.Name, cfg.ObjectPath), cfg.Interface)
}

func callElapsed(ctx context.Context, obj dbus.BusObject, iface string) (string, error) {
	var elapsed string
	call := obj.CallWithContext(ctx, iface+"."+MethodGetElapsedTime, 0)
	if err := call.Store(&elapsed); err != nil {
		return "", fmt.Errorf("call %s: %w", MethodGetElapsedTime, err)
	}
	return elapsed, nil
}

// NameOwned reports whether some connection currently owns cfg.Name.
func NameOwned(ctx context.Context, conn *dbus.Conn, name string) (bool, error) {
	var owned bool
	err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, name).Store(&owned)
	if err != nil {
		return false, fmt.Errorf("query owner of %s: %w", name, err)
	}
	return owned, nil
}
