package completeness

import "math"

// reviewConfidenceFloor is the overall AI confidence below which a human must
// acknowledge the checklist before the referral advances.
const reviewConfidenceFloor = 70

// Score computes the completeness percentage for a checklist: the share of
// items marked found, rounded to the nearest integer. An empty checklist is
// vacuously complete.
func Score(items []*Item) int {
	if len(items) == 0 {
		return 100
	}
	found := 0
	for _, it := range items {
		if it.Status == StatusFound {
			found++
		}
	}
	return int(math.Round(100 * float64(found) / float64(len(items))))
}

// NeedsManualReview reports whether the checklist requires a human
// acknowledgement: overall AI confidence below the floor, or any item the
// classifier could not decide. Advisory only; it does not block transitions.
func NeedsManualReview(aiConfidence int, items []*Item) bool {
	if aiConfidence < reviewConfidenceFloor {
		return true
	}
	for _, it := range items {
		if it.Status == StatusUncertain {
			return true
		}
	}
	return false
}

// AutoFilePolicy decides whether a classified document may be filed without
// review. Shadow mode suppresses auto-filing entirely; it is owned by intake
// operations policy, not by this engine.
type AutoFilePolicy struct {
	DefaultThreshold int
	PerDocType       map[string]int
	ShadowMode       bool
}

// Threshold returns the effective confidence threshold for a document type.
func (p AutoFilePolicy) Threshold(docType string) int {
	if t, ok := p.PerDocType[docType]; ok {
		return t
	}
	return p.DefaultThreshold
}

// AllowAutoFile reports whether a document of the given type at the given
// confidence may be auto-filed.
func (p AutoFilePolicy) AllowAutoFile(docType string, confidence int) bool {
	if p.ShadowMode {
		return false
	}
	return confidence >= p.Threshold(docType)
}
