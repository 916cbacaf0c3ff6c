package policy

// TargetKind distinguishes the blocked sets a target is checked against.
type TargetKind string

const (
	// TargetApp checks the blocked application set.
	TargetApp TargetKind = "app"
	// TargetContact checks the blocked contact set, subject to the
	// emergency-contact exemption.
	TargetContact TargetKind = "contact"
)

// IsBlocked is the access decision: given a target, the current policy
// snapshot, and whether a protection session is active, it reports
// whether the enforcement hook should deny access. Pure; never writes
// state. Precedence:
//
//  1. no active session: allowed
//  2. emergency contact: allowed, even if also in the blocked set
//  3. otherwise: blocked iff present in the relevant blocked set
func IsBlocked(kind TargetKind, targetID string, p UserPolicy, sessionActive bool) bool {
	if !sessionActive {
		return false
	}
	if contains(p.EmergencyContactIDs, targetID) {
		return false
	}

	switch kind {
	case TargetApp:
		return contains(p.BlockedAppIDs, targetID)
	case TargetContact:
		return contains(p.BlockedContactIDs, targetID)
	default:
		return false
	}
}
