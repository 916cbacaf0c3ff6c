//go:build !linux

package notify

import "shieldd/internal/logging"

// New returns the log-backed Notifier on platforms without a supported
// desktop notification service.
func New(log *logging.Logger) Notifier {
	return &LogNotifier{Log: log}
}
