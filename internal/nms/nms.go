// Package nms removes redundant overlapping detections with greedy
// non-maximum suppression.
package nms

import (
	"fmt"
	"sort"

	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
)

// Mode selects how detections are grouped before suppression.
type Mode string

const (
	// ClassAware suppresses only among detections sharing a product code.
	ClassAware Mode = "class_aware"
	// ClassAgnostic treats all detections as one group.
	ClassAgnostic Mode = "class_agnostic"
)

// ParseMode validates a textual mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ClassAware, ClassAgnostic:
		return Mode(s), nil
	case "":
		return ClassAware, nil
	default:
		return "", fmt.Errorf("invalid nms mode: %q (must be %s or %s)", s, ClassAware, ClassAgnostic)
	}
}

// Suppress returns the subset of dets that survives NMS, ordered by descending
// confidence. A detection is dropped when its IoU with a higher-confidence
// detection of the same group exceeds iouThreshold. Input detections are never
// modified.
func Suppress(dets []detection.Detection, iouThreshold float64, mode Mode) []detection.Detection {
	if len(dets) == 0 {
		return []detection.Detection{}
	}

	groups := make(map[string][]int)
	var order []string
	for i, d := range dets {
		key := ""
		if mode != ClassAgnostic {
			key = d.ProductCode
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	keptIdx := make([]int, 0, len(dets))
	for _, key := range order {
		idx := groups[key]
		boxes := make([]utils.Box, len(idx))
		scores := make([]float64, len(idx))
		for j, i := range idx {
			boxes[j] = dets[i].Region.Box
			scores[j] = dets[i].Confidence
		}
		for _, k := range SuppressBoxes(boxes, scores, iouThreshold) {
			keptIdx = append(keptIdx, idx[k])
		}
	}

	sortIndicesByScore(keptIdx, func(i int) float64 { return dets[i].Confidence })

	out := make([]detection.Detection, len(keptIdx))
	for i, k := range keptIdx {
		out[i] = dets[k]
	}
	return out
}

// SuppressBoxes runs single-group greedy NMS and returns the kept indices in
// descending score order. Equal scores keep their input order.
func SuppressBoxes(boxes []utils.Box, scores []float64, iouThreshold float64) []int {
	n := len(boxes)
	if n == 0 {
		return nil
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	sortIndicesByScore(indices, func(i int) float64 { return scores[i] })

	suppressed := make([]bool, n)
	kept := make([]int, 0, n)
	for pos, a := range indices {
		if suppressed[a] {
			continue
		}
		kept = append(kept, a)
		for _, b := range indices[pos+1:] {
			if suppressed[b] {
				continue
			}
			if detection.IoU(boxes[a], boxes[b]) > iouThreshold {
				suppressed[b] = true
			}
		}
	}
	return kept
}

// sortIndicesByScore sorts indices by descending score, ties by index.
func sortIndicesByScore(indices []int, score func(int) float64) {
	sort.SliceStable(indices, func(i, j int) bool {
		si, sj := score(indices[i]), score(indices[j])
		if si != sj {
			return si > sj
		}
		return indices[i] < indices[j]
	})
}
