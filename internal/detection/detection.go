// Package detection defines the region and detection records that flow through
// the shelf pipeline.
package detection

import (
	"github.com/MeKo-Tech/omnishelf/internal/utils"
)

// Region proposal methods.
const (
	MethodSlidingWindow   = "sliding_window"
	MethodContour         = "contour"
	MethodGrid            = "grid"
	MethodGenericDetector = "generic_detector"
)

// Placeholder values for regions that no catalog product matched.
const (
	UnclassifiedCode     = "unclassified"
	UnclassifiedName     = "Unknown Product"
	UnclassifiedCategory = "Unknown"
)

// VerificationStatus records the outcome of the external verifier.
type VerificationStatus string

const (
	StatusUnverified VerificationStatus = "unverified"
	StatusConfirmed  VerificationStatus = "confirmed"
	StatusCorrected  VerificationStatus = "corrected"
)

// Region is a candidate bounding box produced by exactly one proposer.
type Region struct {
	ID     int       `json:"id"`
	Box    utils.Box `json:"box"`
	Method string    `json:"method"`
	// Score is the proposer's own confidence, set only by detector-backed proposers.
	Score float64 `json:"score,omitempty"`
}

// Detection is a classified region.
type Detection struct {
	Region             Region             `json:"region"`
	ProductCode        string             `json:"product_code"`
	DisplayName        string             `json:"display_name"`
	Category           string             `json:"category"`
	Confidence         float64            `json:"confidence"`
	SourceMethod       string             `json:"source_method"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	VerifierLabel      string             `json:"verifier_label,omitempty"`
	VerificationError  string             `json:"verification_error,omitempty"`
}

// Classified reports whether the detection matched a catalog product.
func (d Detection) Classified() bool {
	return d.ProductCode != "" && d.ProductCode != UnclassifiedCode
}

// IoU returns intersection over union of two boxes. Non-overlapping boxes and
// boxes with zero union area yield 0.
func IoU(a, b utils.Box) float64 {
	inter := a.Intersect(b).Area()
	if inter <= 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// CountProducts tallies detections per product code, skipping unclassified ones.
func CountProducts(dets []Detection) map[string]int {
	counts := make(map[string]int)
	for _, d := range dets {
		if !d.Classified() {
			continue
		}
		counts[d.ProductCode]++
	}
	return counts
}
