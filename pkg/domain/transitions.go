package domain

import "strings"

// resolutionTransitions is the full set of legal infringement status moves.
// resolved and false_positive are terminal.
var resolutionTransitions = map[InfringementStatus][]InfringementStatus{
	InfringementPending: {InfringementSent, InfringementFalsePositive},
	InfringementSent:    {InfringementResolved},
}

// CanResolve reports whether an infringement may move from one status to
// another. Self-transitions are not permitted.
func CanResolve(from, to InfringementStatus) bool {
	for _, next := range resolutionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseInfringementStatus validates a caller-supplied status value.
func ParseInfringementStatus(s string) (InfringementStatus, bool) {
	switch InfringementStatus(strings.ToLower(strings.TrimSpace(s))) {
	case InfringementPending:
		return InfringementPending, true
	case InfringementSent:
		return InfringementSent, true
	case InfringementResolved:
		return InfringementResolved, true
	case InfringementFalsePositive:
		return InfringementFalsePositive, true
	default:
		return "", false
	}
}

// ParseWorkStatus validates a work scan status value.
func ParseWorkStatus(s string) (WorkStatus, bool) {
	switch WorkStatus(strings.ToLower(strings.TrimSpace(s))) {
	case WorkScanning:
		return WorkScanning, true
	case WorkSafe:
		return WorkSafe, true
	case WorkInfringed:
		return WorkInfringed, true
	default:
		return "", false
	}
}
