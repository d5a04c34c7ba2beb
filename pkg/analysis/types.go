package analysis

import (
	"callqa-server/pkg/stt"
)

// Role is a canonical call party.
type Role string

const (
	RoleAgent    Role = "Agent"
	RoleCustomer Role = "Customer"

	// RoleOverall keys aggregates computed over the full segment set.
	RoleOverall Role = "Overall"
)

// CanonicalRole parses a role name, returning false for anything outside
// the fixed {Agent, Customer} set.
func CanonicalRole(name string) (Role, bool) {
	switch name {
	case string(RoleAgent):
		return RoleAgent, true
	case string(RoleCustomer):
		return RoleCustomer, true
	default:
		return "", false
	}
}

// RoleHint pins one diarized speaker ID to a canonical role. Hints are
// ordered pairs rather than a map so conflicting hints for the same
// speaker remain visible to validation.
type RoleHint struct {
	SpeakerID string
	Role      string
}

// RoleAssignment maps every diarized speaker ID seen on the call to
// exactly one canonical role. Derived once per call, immutable after.
type RoleAssignment struct {
	bySpeaker map[string]Role

	// SpeakerCount is the number of distinct diarized speakers before
	// any merge policy was applied.
	SpeakerCount int
}

// RoleOf returns the resolved role for a speaker ID. Unknown speakers
// resolve to Customer, matching the merge policy for extra speakers.
func (a *RoleAssignment) RoleOf(speakerID string) Role {
	if role, ok := a.bySpeaker[speakerID]; ok {
		return role
	}
	return RoleCustomer
}

// AttributedSegment is a cleaned transcript segment with its resolved role.
type AttributedSegment struct {
	stt.Segment
	Role Role
}

// Aggregation is the output of segment aggregation: cleaned, ordered,
// role-partitioned transcript material.
type Aggregation struct {
	// Segments holds every non-empty cleaned segment in temporal order.
	Segments []AttributedSegment

	// PerRole partitions Segments by resolved role, order preserved.
	PerRole map[Role][]AttributedSegment

	// PerRoleText joins each role's cleaned segment texts in order.
	PerRoleText map[Role]string

	// OverallText is the role-labelled transcript in temporal order.
	OverallText string

	Assignment *RoleAssignment
	Language   string
}

// SegmentScores holds one segment's external scoring results, keyed back
// to the segment by index into Aggregation.Segments.
type SegmentScores struct {
	Index     int
	Role      Role
	Sentiment stt.SentimentScore
	Tonal     stt.TonalScore

	// Degraded is set when scoring fell back to neutral defaults.
	Degraded bool
}

// ScoreSet is the aggregated sentiment/tonal output per role.
type ScoreSet struct {
	Sentiment map[Role]stt.SentimentScore
	Tonal     map[Role]stt.TonalScore

	// PerSegment retains per-segment results for downstream evaluation.
	PerSegment []SegmentScores
}

// EvaluationMetrics is the composite QA rating. JSON keys follow the
// report schema consumed by reviewers.
type EvaluationMetrics struct {
	Resolution   int     `json:"Resolution"`
	Compliance   int     `json:"Compliance"`
	Satisfaction int     `json:"Satisfaction"`
	FinalRating  float64 `json:"Final_rating"`
	Evaluation   string  `json:"Evaluation"`
}

// ResponseSegment is one transcript entry in the final report.
type ResponseSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
}

// AnalysisResponse is the full report returned for one analyzed call.
// Immutable once assembled.
type AnalysisResponse struct {
	Transcription string                        `json:"transcription"`
	Segments      []ResponseSegment             `json:"segments"`
	Sentiment     map[string]stt.SentimentScore `json:"sentiment"`
	Tonal         map[string]stt.TonalScore     `json:"tonal"`
	Evaluation    EvaluationMetrics             `json:"evaluation"`
	Language      string                        `json:"language,omitempty"`
	NumSpeakers   int                           `json:"num_speakers"`
}
