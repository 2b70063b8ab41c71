// Package segmentation clusters an ordered page sequence from an inbound fax
// into logical document segments. The detector is pure: it consumes fields
// already extracted upstream and performs no I/O.
package segmentation

// Page is one page of an inbound transmission. DetectedPatient and
// DetectedDocType come from the upstream classification step and may be empty
// when extraction failed. Confidence is the classifier's certainty 0-100 for
// this page's fields.
type Page struct {
	Number          int    `json:"number"`
	DetectedPatient string `json:"detected_patient,omitempty"`
	DetectedDocType string `json:"detected_doc_type,omitempty"`
	Confidence      int    `json:"confidence"`
}

// Segment is a contiguous run of pages belonging to one logical document.
// Confidence reflects boundary-detection certainty, not per-page extraction
// certainty.
type Segment struct {
	StartPage    int    `json:"start_page"`
	EndPage      int    `json:"end_page"`
	PatientName  string `json:"patient_name,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
	Confidence   int    `json:"confidence"`
}

const (
	RecommendationNone        = "none"
	RecommendationSplit       = "split-and-route-separately"
	RecommendationManualSplit = "manual-split"
)

// Result is the detector's advisory output. It never blocks processing;
// splitting is a separate explicit command that consumes this.
type Result struct {
	Segments       []Segment `json:"segments"`
	IsMultiSegment bool      `json:"is_multi_segment"`
	LowConfidence  bool      `json:"low_confidence"`
	Recommendation string    `json:"recommendation"`
}

// lowConfidenceFloor marks segments whose boundary evidence is too weak to
// auto-split on.
const lowConfidenceFloor = 50

// docTypeBoundaryPenalty discounts boundaries opened on a doc-type change
// alone: patient identity is stronger evidence than document classification.
const docTypeBoundaryPenalty = 15

// Detect clusters pages into segments with a single linear scan. A boundary
// opens when the detected patient differs from the current segment's patient
// (both non-empty), or when the detected doc type differs and the current
// segment already has at least one page.
func Detect(pages []Page) Result {
	if len(pages) == 0 {
		return Result{Recommendation: RecommendationNone}
	}

	var segments []Segment
	cur := newSegment(pages[0])

	for _, p := range pages[1:] {
		patientBreak := p.DetectedPatient != "" && cur.PatientName != "" &&
			p.DetectedPatient != cur.PatientName
		docTypeBreak := p.DetectedDocType != cur.DocumentType

		if patientBreak || docTypeBreak {
			segments = append(segments, cur)
			next := newSegment(p)
			// Boundary confidence is the weaker side of the break, so one
			// confidently-classified page cannot mask an uncertain neighbor.
			evidence := min(cur.Confidence, p.Confidence)
			if !patientBreak {
				evidence -= docTypeBoundaryPenalty
			}
			if evidence < 0 {
				evidence = 0
			}
			next.Confidence = evidence
			cur = next
			continue
		}

		cur.EndPage = p.Number
		if cur.PatientName == "" {
			cur.PatientName = p.DetectedPatient
		}
		if p.Confidence < cur.Confidence {
			cur.Confidence = p.Confidence
		}
	}
	segments = append(segments, cur)

	res := Result{
		Segments:       segments,
		IsMultiSegment: len(segments) > 1,
		Recommendation: RecommendationNone,
	}
	for _, s := range segments {
		if s.Confidence < lowConfidenceFloor {
			res.LowConfidence = true
		}
	}
	switch {
	case res.LowConfidence && res.IsMultiSegment:
		res.Recommendation = RecommendationManualSplit
	case res.IsMultiSegment:
		res.Recommendation = RecommendationSplit
	}
	return res
}

func newSegment(p Page) Segment {
	return Segment{
		StartPage:    p.Number,
		EndPage:      p.Number,
		PatientName:  p.DetectedPatient,
		DocumentType: p.DetectedDocType,
		Confidence:   p.Confidence,
	}
}
