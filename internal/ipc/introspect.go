package ipc

import (
	"github.com/godbus/dbus/v5/introspect"
)

// introspectNode describes the exported object for
// org.freedesktop.DBus.Introspectable.Introspect.
func introspectNode(iface string) *introspect.Node {
	return &introspect.Node{
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: iface,
				Methods: []introspect.Method{
					{
						Name: MethodGetElapsedTime,
						Args: []introspect.Arg{
							{Name: "elapsed", Type: "s", Direction: "out"},
						},
					},
				},
			},
		},
	}
}
