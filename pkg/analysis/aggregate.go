package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"callqa-server/pkg/stt"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	speakerToken  = regexp.MustCompile(`(?i)(SPEAKER|SPK)_?(\d+)`)
)

// CleanText normalizes raw transcript text: whitespace runs collapse to
// single spaces, the result is trimmed, and raw diarization tokens like
// "SPEAKER_03" become "Speaker 3". Idempotent: cleaning already-clean
// text yields the same text.
func CleanText(text string) string {
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = speakerToken.ReplaceAllString(text, "Speaker $2")
	return strings.TrimSpace(text)
}

// FormatTimestamp renders seconds as an SRT-style "HH:MM:SS.mmm" stamp.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := seconds - float64(hours*3600+minutes*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", hours, minutes, secs)
}

// Aggregate partitions cleaned segments by resolved role and builds the
// per-role and overall text streams. Segments whose text is empty after
// cleaning carry no signal and are dropped entirely.
func Aggregate(segments []stt.Segment, assignment *RoleAssignment, language string) *Aggregation {
	agg := &Aggregation{
		PerRole:     make(map[Role][]AttributedSegment),
		PerRoleText: make(map[Role]string),
		Assignment:  assignment,
		Language:    language,
	}

	// Both partitions always exist, even when a role never speaks
	agg.PerRole[RoleAgent] = nil
	agg.PerRole[RoleCustomer] = nil

	cleaned := make([]AttributedSegment, 0, len(segments))
	for _, seg := range segments {
		text := CleanText(seg.Text)
		if text == "" {
			continue
		}
		cleaned = append(cleaned, AttributedSegment{
			Segment: stt.Segment{
				Start:     seg.Start,
				End:       seg.End,
				SpeakerID: seg.SpeakerID,
				Text:      text,
			},
			Role: assignment.RoleOf(seg.SpeakerID),
		})
	}

	// Downstream stages require non-decreasing start order
	sort.SliceStable(cleaned, func(i, j int) bool {
		return cleaned[i].Start < cleaned[j].Start
	})

	agg.Segments = cleaned

	var overall strings.Builder
	roleTexts := make(map[Role][]string)
	for _, seg := range cleaned {
		agg.PerRole[seg.Role] = append(agg.PerRole[seg.Role], seg)
		roleTexts[seg.Role] = append(roleTexts[seg.Role], seg.Text)

		if overall.Len() > 0 {
			overall.WriteString("\n")
		}
		overall.WriteString(string(seg.Role))
		overall.WriteString(": ")
		overall.WriteString(seg.Text)
	}

	for role, texts := range roleTexts {
		agg.PerRoleText[role] = strings.Join(texts, " ")
	}
	agg.OverallText = overall.String()

	return agg
}
