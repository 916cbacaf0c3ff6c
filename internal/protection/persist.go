package protection

import (
	"encoding/json"
	"errors"
	"fmt"

	"shieldd/internal/policy"
	"shieldd/internal/store"
)

// Persistence rules: a mutation's write happens synchronously before the
// operation returns. If the store rejects it, in-memory state stays
// authoritative, the value is queued, and every later mutating call
// retries queued writes first, so no record is ever dropped.

// loadState reads policy, history, and any active session from the store.
// A record that fails schema validation or decoding is archived for
// diagnostics and treated as absent, never deleted silently.
func (c *Controller) loadState() error {
	var p policy.UserPolicy
	found, err := c.loadRecord(store.KeyUserPolicy, &p)
	if err != nil {
		return err
	}
	if found {
		p.Normalize()
		c.policy = p
	} else {
		c.policy = policy.Default()
	}

	c.history = nil
	if _, err := c.loadRecord(store.KeySessionHistory, &c.history); err != nil {
		return err
	}
	if len(c.history) > HistoryLimit {
		c.history = c.history[:HistoryLimit]
	}

	var s Session
	found, err = c.loadRecord(store.KeyCurrentSession, &s)
	if err != nil {
		return err
	}
	if found {
		c.session = &s
	}
	return nil
}

// loadRecord reads and validates one record. Corrupt records are archived
// and reported as absent (found=false). Only store-level failures other
// than ErrNotFound propagate.
func (c *Controller) loadRecord(key string, out any) (bool, error) {
	data, err := c.store.Get(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", key, err)
	}

	if err := store.ValidateRecord(key, data); err != nil {
		c.archiveCorrupt(key, data, err)
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.archiveCorrupt(key, data, fmt.Errorf("%w: %s: %v", store.ErrCorruptRecord, key, err))
		return false, nil
	}
	return true, nil
}

func (c *Controller) archiveCorrupt(key string, data []byte, cause error) {
	c.log.Error("corrupt persisted record, archiving",
		"record", key, "error", cause)
	if err := c.store.Archive(key, data, cause.Error()); err != nil {
		c.log.Error("archiving corrupt record failed", "record", key, "error", err)
	}
}

// persistSession writes the active session record, or deletes it when the
// active slot is empty. Caller holds the lock.
func (c *Controller) persistSession() {
	if c.session == nil {
		c.write(store.KeyCurrentSession, nil)
		return
	}
	data, err := json.Marshal(c.session)
	if err != nil {
		// Session contains only marshalable fields; treat as a bug.
		c.log.Error("marshal session", "error", err)
		return
	}
	c.write(store.KeyCurrentSession, data)
}

// persistHistory writes the bounded history record. Caller holds the lock.
func (c *Controller) persistHistory() {
	history := c.history
	if history == nil {
		history = []Session{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		c.log.Error("marshal history", "error", err)
		return
	}
	c.write(store.KeySessionHistory, data)
}

// persistPolicy writes the policy record. Caller holds the lock.
func (c *Controller) persistPolicy() {
	data, err := json.Marshal(&c.policy)
	if err != nil {
		c.log.Error("marshal policy", "error", err)
		return
	}
	c.write(store.KeyUserPolicy, data)
}

// write commits one record, retrying any previously failed writes first.
// A nil value deletes the record. Failures are queued; the newest value
// for a key always wins.
func (c *Controller) write(key string, value []byte) {
	// The value being written supersedes any queued one for this key.
	delete(c.pending, key)
	c.flushPending()

	if err := c.commit(key, value); err != nil {
		c.log.Error("persistence write failed, queued for retry",
			"record", key, "error", err)
		c.pending[key] = value
	}
}

// flushPending retries queued writes. Records that fail again stay queued.
func (c *Controller) flushPending() {
	for key, value := range c.pending {
		if err := c.commit(key, value); err != nil {
			continue
		}
		delete(c.pending, key)
	}
}

func (c *Controller) commit(key string, value []byte) error {
	if value == nil {
		return c.store.Delete(key)
	}
	return c.store.Set(key, value)
}

// PendingWrites reports how many records await a persistence retry.
// Exposed for health reporting.
func (c *Controller) PendingWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Flush retries all queued writes, for use at shutdown. Returns the
// number of records still unwritten.
func (c *Controller) Flush() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushPending()
	return len(c.pending)
}
