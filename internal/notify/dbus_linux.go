//go:build linux

package notify

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"shieldd/internal/logging"
)

const (
	notifyInterface = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyMethod    = "org.freedesktop.Notifications.Notify"
)

// DBusNotifier delivers desktop notifications over the session bus.
type DBusNotifier struct {
	conn *dbus.Conn
}

// NewDBus connects to the session bus.
func NewDBus() (*DBusNotifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &DBusNotifier{conn: conn}, nil
}

// Notify implements Notifier via org.freedesktop.Notifications.
func (n *DBusNotifier) Notify(summary, body string) error {
	obj := n.conn.Object(notifyInterface, dbus.ObjectPath(notifyPath))
	call := obj.Call(notifyMethod, 0,
		"shieldd", // app name
		uint32(0), // replaces id
		"",        // icon
		summary,
		body,
		[]string{},                // actions
		map[string]dbus.Variant{}, // hints
		int32(10000),              // timeout ms
	)
	if call.Err != nil {
		return fmt.Errorf("send notification: %w", call.Err)
	}
	return nil
}

// Close releases the bus connection.
func (n *DBusNotifier) Close() error {
	return n.conn.Close()
}

// New returns the best available Notifier for this platform: desktop
// notifications when a session bus is reachable, the log otherwise.
func New(log *logging.Logger) Notifier {
	n, err := NewDBus()
	if err != nil {
		if log != nil {
			log.Warn("desktop notifications unavailable, logging instead", "error", err)
		}
		return &LogNotifier{Log: log}
	}
	return n
}
