package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/verifier"
)

// Result is the outcome of one detection run.
type Result struct {
	ImageWidth      int                      `json:"image_width"`
	ImageHeight     int                      `json:"image_height"`
	TotalProposals  int                      `json:"total_proposals"`
	TotalClassified int                      `json:"total_classified"`
	Detections      []detection.Detection    `json:"detections"`
	ProductCounts   map[string]int           `json:"product_counts"`
	Verification    verifier.Stats           `json:"verification"`
	Timings         map[string]time.Duration `json:"timings_ns"`
	TotalDuration   time.Duration            `json:"total_ns"`
}

// ToJSON serializes res to pretty JSON.
func ToJSON(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToCSV exports one row per detection with a header.
func ToCSV(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{
		"region_id", "x1", "y1", "x2", "y2", "method",
		"product_code", "display_name", "category", "confidence", "verification",
	})
	for _, d := range res.Detections {
		_ = w.Write([]string{
			strconv.Itoa(d.Region.ID),
			fmtCoord(d.Region.Box.MinX),
			fmtCoord(d.Region.Box.MinY),
			fmtCoord(d.Region.Box.MaxX),
			fmtCoord(d.Region.Box.MaxY),
			d.SourceMethod,
			d.ProductCode,
			d.DisplayName,
			d.Category,
			fmt.Sprintf("%.3f", d.Confidence),
			string(d.VerificationStatus),
		})
	}
	w.Flush()
	return buf.String(), w.Error()
}

func fmtCoord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// ToText renders a human readable summary with per-product counts sorted by
// count, then name.
func ToText(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Image: %dx%d\n", res.ImageWidth, res.ImageHeight)
	fmt.Fprintf(&sb, "Proposals: %d, classified: %d, detections: %d\n",
		res.TotalProposals, res.TotalClassified, len(res.Detections))
	if res.Verification.Enabled {
		fmt.Fprintf(&sb, "Verification: %d attempted, %d confirmed, %d corrected, %d failed\n",
			res.Verification.Attempted, res.Verification.Confirmed,
			res.Verification.Corrected, res.Verification.Failed)
	}

	names := make(map[string]string, len(res.ProductCounts))
	for _, d := range res.Detections {
		if _, ok := names[d.ProductCode]; !ok {
			names[d.ProductCode] = d.DisplayName
		}
	}
	codes := make([]string, 0, len(res.ProductCounts))
	for c := range res.ProductCounts {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool {
		ci, cj := res.ProductCounts[codes[i]], res.ProductCounts[codes[j]]
		if ci != cj {
			return ci > cj
		}
		return codes[i] < codes[j]
	})
	if len(codes) == 0 {
		sb.WriteString("No products detected\n")
		return sb.String(), nil
	}
	sb.WriteString("Products:\n")
	for _, c := range codes {
		name := names[c]
		if name == "" {
			name = c
		}
		fmt.Fprintf(&sb, "  %-32s %3d  (%s)\n", name, res.ProductCounts[c], c)
	}
	return sb.String(), nil
}

// Validate performs consistency checks on res.
func Validate(res *Result) error {
	if res == nil {
		return errors.New("nil result")
	}
	if res.ImageWidth <= 0 || res.ImageHeight <= 0 {
		return fmt.Errorf("invalid image size %dx%d", res.ImageWidth, res.ImageHeight)
	}
	w, h := float64(res.ImageWidth), float64(res.ImageHeight)
	seen := make(map[int]bool, len(res.Detections))
	for i, d := range res.Detections {
		b := d.Region.Box
		if b.MaxX <= b.MinX || b.MaxY <= b.MinY {
			return fmt.Errorf("detection %d has empty box", i)
		}
		if b.MinX < 0 || b.MinY < 0 || b.MaxX > w || b.MaxY > h {
			return fmt.Errorf("detection %d exceeds image bounds", i)
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			return fmt.Errorf("detection %d confidence out of range", i)
		}
		if seen[d.Region.ID] {
			return fmt.Errorf("detection %d reuses region id %d", i, d.Region.ID)
		}
		seen[d.Region.ID] = true
	}
	counts := detection.CountProducts(res.Detections)
	if len(counts) != len(res.ProductCounts) {
		return errors.New("product counts do not match detections")
	}
	for code, n := range counts {
		if res.ProductCounts[code] != n {
			return fmt.Errorf("product count for %s is %d, want %d", code, res.ProductCounts[code], n)
		}
	}
	return nil
}
