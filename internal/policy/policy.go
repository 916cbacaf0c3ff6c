// Package policy holds the user's blocking policy and the access decision
// logic evaluated by enforcement hooks.
package policy

import (
	"fmt"

	"shieldd/internal/challenge"
)

// UserPolicy describes what is blocked during an active protection
// session. Field names are the persisted record contract.
type UserPolicy struct {
	// BlockedAppIDs are application identifiers denied while protected.
	BlockedAppIDs []string `json:"blockedAppIds"`

	// BlockedContactIDs are contact identifiers denied for messages and
	// calls while protected.
	BlockedContactIDs []string `json:"blockedContactIds"`

	// EmergencyContactIDs are always reachable. Membership here overrides
	// BlockedContactIDs for the same identifier.
	EmergencyContactIDs []string `json:"emergencyContactIds"`

	// DefaultDurationSeconds is the session length used when activate is
	// called without an explicit duration. Nil means manual-stop-only.
	DefaultDurationSeconds *int64 `json:"defaultDurationSeconds"`

	// TestDifficulty selects the sobriety challenge difficulty.
	TestDifficulty challenge.Difficulty `json:"testDifficulty"`

	// NotifyOnBlock requests a notification for each blocked attempt.
	NotifyOnBlock bool `json:"notifyOnBlock"`

	// AllowManualStop permits ending a session without a challenge.
	AllowManualStop bool `json:"allowManualStop"`
}

// Default returns the policy used before the user configures one:
// nothing blocked, medium difficulty, manual stop disallowed.
func Default() UserPolicy {
	return UserPolicy{
		BlockedAppIDs:       []string{},
		BlockedContactIDs:   []string{},
		EmergencyContactIDs: []string{},
		TestDifficulty:      challenge.Medium,
		NotifyOnBlock:       true,
	}
}

// Validate checks the policy for internal consistency.
func (p *UserPolicy) Validate() error {
	if !p.TestDifficulty.Valid() {
		return fmt.Errorf("invalid test difficulty: %q", p.TestDifficulty)
	}
	if p.DefaultDurationSeconds != nil && *p.DefaultDurationSeconds <= 0 {
		return fmt.Errorf("default duration must be positive, got %d", *p.DefaultDurationSeconds)
	}
	return nil
}

// Normalize fills nil slices so the persisted record always carries
// arrays, and deduplicates identifiers.
func (p *UserPolicy) Normalize() {
	p.BlockedAppIDs = dedupe(p.BlockedAppIDs)
	p.BlockedContactIDs = dedupe(p.BlockedContactIDs)
	p.EmergencyContactIDs = dedupe(p.EmergencyContactIDs)
	if p.TestDifficulty == "" {
		p.TestDifficulty = challenge.Medium
	}
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
