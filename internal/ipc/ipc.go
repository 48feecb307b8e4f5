// Package ipc publishes gnomato's live state on the D-Bus session bus.
//
// A Publisher owns a well-known name and exports one object whose only
// method, GetElapsedTime, returns the value of an accessor at call time.
package ipc

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	DefaultBusName    = "com.diegorubin.Gnomato"
	DefaultInterface  = "com.diegorubin.Gnomato"
	DefaultObjectPath = dbus.ObjectPath("/com/diegorubin/Gnomato")

	MethodGetElapsedTime = "GetElapsedTime"

	introspectableInterface = "org.freedesktop.DBus.Introspectable"
	nameLostSignal          = "org.freedesktop.DBus.NameLost"
	nameAcquiredSignal      = "org.freedesktop.DBus.NameAcquired"

	errUnknownMethod = "org.freedesktop.DBus.Error.UnknownMethod"
)

// State is the publisher's name-ownership state.
type State int

const (
	StateUnregistered State = iota
	StateNameRequested
	StateAcquired
	StateLost
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateNameRequested:
		return "name_requested"
	case StateAcquired:
		return "acquired"
	case StateLost:
		return "lost"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request is one decoded inbound method call.
type Request interface {
	Method() string
}

// GetElapsedTime asks for the current elapsed-time display value.
type GetElapsedTime struct{}

func (GetElapsedTime) Method() string { return MethodGetElapsedTime }

// UnknownRequest is any method this object does not implement.
type UnknownRequest struct {
	Name string
}

func (r UnknownRequest) Method() string { return r.Name }

// Dispatch answers req. The accessor is called synchronously, once, so the
// reply is the value at the moment of the call.
func Dispatch(req Request, accessor func() string) (string, *dbus.Error) {
	switch req.(type) {
	case GetElapsedTime:
		return accessor(), nil
	case UnknownRequest:
		return "", UnknownMethodError()
	default:
		return "", UnknownMethodError()
	}
}

// UnknownMethodError is the reply for any method other than GetElapsedTime.
func UnknownMethodError() *dbus.Error {
	return dbus.NewError(errUnknownMethod, []interface{}{"Method does not exist."})
}

// ErrRegistration matches every *RegistrationError.
var ErrRegistration = errors.New("bus registration failed")

// RegistrationError reports which registration stage failed. The host
// keeps running without IPC.
type RegistrationError struct {
	Stage string // "introspection", "export" or "request name"
	Name  string
	Err   error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s: %s: %v", e.Name, e.Stage, e.Err)
}

func (e *RegistrationError) Unwrap() []error {
	return []error{ErrRegistration, e.Err}
}
