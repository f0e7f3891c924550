package domain

// PairRole is a participant's role relative to a freshly paired peer.
type PairRole int

const (
	// RoleNewcomer joined the call after the peer.
	RoleNewcomer PairRole = iota
	// RoleExisting was already in the call when the peer joined.
	RoleExisting
	// RoleDirectCaller placed a one-to-one call.
	RoleDirectCaller
	// RoleDirectCallee answered a one-to-one call.
	RoleDirectCallee
)

// SendsFirstOffer is the single glare-avoidance rule for the whole system:
// in group flows the newcomer initiates toward every existing participant and
// existing participants never initiate toward a newcomer; in direct flows the
// original caller initiates. Exactly one side of any fresh pair returns true.
// Both the server join paths and the client join flows consult this function;
// do not restate the decision anywhere else.
func SendsFirstOffer(role PairRole) bool {
	switch role {
	case RoleNewcomer, RoleDirectCaller:
		return true
	default:
		return false
	}
}
