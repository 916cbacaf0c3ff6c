// Package notify dispatches user-facing alerts for shieldd: "ending
// soon", "ended", and blocked-attempt notices. Delivery is best effort;
// the session engine never depends on it.
package notify

import (
	"sync"

	"shieldd/internal/logging"
)

// Notifier delivers a notification to the user.
type Notifier interface {
	Notify(summary, body string) error
}

// LogNotifier writes notifications to the log. Used where no desktop
// notification service is available and in tests.
type LogNotifier struct {
	Log *logging.Logger
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(summary, body string) error {
	log := n.Log
	if log == nil {
		log = logging.Default()
	}
	log.Info("notification", "summary", summary, "body", body)
	return nil
}

// Recorder is a test Notifier capturing delivered notifications. Safe
// for use from the delivery goroutine.
type Recorder struct {
	mu        sync.Mutex
	delivered []string
}

// Notify implements Notifier.
func (r *Recorder) Notify(summary, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, summary+": "+body)
	return nil
}

// Delivered returns the notifications received so far, in order.
func (r *Recorder) Delivered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.delivered...)
}
