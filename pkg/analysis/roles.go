package analysis

import (
	"fmt"

	"callqa-server/pkg/errors"
	"callqa-server/pkg/stt"
)

// ResolveRoles maps diarized speaker IDs to the canonical {Agent,
// Customer} roles.
//
// Default heuristic: the speaker of the first segment is the Agent
// (call-center convention: the agent opens the call) and the next
// distinct speaker is the Customer. Hints override the heuristic for
// the speakers they name. Speakers beyond the first two are merged into
// the Customer role; the report supports exactly two parties and the
// merge is the documented policy, not an accident.
func ResolveRoles(segments []stt.Segment, hints []RoleHint) (*RoleAssignment, error) {
	// Distinct speakers in first-appearance order
	var order []string
	seen := make(map[string]bool)
	for _, seg := range segments {
		if !seen[seg.SpeakerID] {
			seen[seg.SpeakerID] = true
			order = append(order, seg.SpeakerID)
		}
	}

	assigned := make(map[string]Role, len(order))

	// Apply hints first. Every hinted label must be canonical, and two
	// different roles for one speaker is a caller error.
	for _, h := range hints {
		role, ok := CanonicalRole(h.Role)
		if !ok {
			return nil, errors.Wrap(errors.ErrInvalidInput,
				fmt.Sprintf("speaker label %q is not one of Agent, Customer", h.Role))
		}
		if prev, dup := assigned[h.SpeakerID]; dup && prev != role {
			return nil, errors.Wrap(errors.ErrAmbiguousSpeakers,
				fmt.Sprintf("speaker %q hinted as both %s and %s", h.SpeakerID, prev, role))
		}
		assigned[h.SpeakerID] = role
	}

	agentTaken := false
	for _, role := range assigned {
		if role == RoleAgent {
			agentTaken = true
			break
		}
	}

	// Fill the remaining speakers: the earliest unhinted speaker takes
	// Agent if it is still free, everyone after that is Customer.
	for _, id := range order {
		if _, ok := assigned[id]; ok {
			continue
		}
		if !agentTaken {
			assigned[id] = RoleAgent
			agentTaken = true
			continue
		}
		assigned[id] = RoleCustomer
	}

	return &RoleAssignment{
		bySpeaker:    assigned,
		SpeakerCount: len(order),
	}, nil
}
