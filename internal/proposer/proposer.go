// Package proposer generates candidate product regions from shelf images.
//
// Three strategies are available: exhaustive sliding windows, edge/contour
// analysis combined with a fixed grid, and a pretrained general object
// detector restricted to container and food classes. Strategies can run alone
// or together; combined output is deduplicated with Merge.
package proposer

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sort"

	"github.com/MeKo-Tech/omnishelf/internal/detection"
)

// Strategy names as used in configuration.
const (
	StrategySlidingWindow   = "sliding_window"
	StrategyContourGrid     = "contour_grid"
	StrategyGenericDetector = "generic_detector"
)

// DefaultMergeThreshold is the IoU above which two proposals are merged.
const DefaultMergeThreshold = 0.7

// Proposer produces candidate regions for one image. Implementations must be
// safe for concurrent use.
type Proposer interface {
	Name() string
	Propose(ctx context.Context, img image.Image) ([]detection.Region, error)
}

// Multi runs several proposers and merges their output.
type Multi struct {
	Proposers      []Proposer
	MergeThreshold float64
}

// NewMulti combines proposers with the given merge threshold.
func NewMulti(threshold float64, proposers ...Proposer) *Multi {
	return &Multi{Proposers: proposers, MergeThreshold: threshold}
}

// Name lists the combined strategies.
func (m *Multi) Name() string {
	name := ""
	for i, p := range m.Proposers {
		if i > 0 {
			name += "+"
		}
		name += p.Name()
	}
	return name
}

// Propose runs every proposer in order. A single proposer's output is
// returned unmerged; combined output goes through Merge.
func (m *Multi) Propose(ctx context.Context, img image.Image) ([]detection.Region, error) {
	var all []detection.Region
	for _, p := range m.Proposers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		regions, err := p.Propose(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("%s proposer: %w", p.Name(), err)
		}
		slog.Debug("proposals generated", "strategy", p.Name(), "count", len(regions))
		all = append(all, regions...)
	}
	if len(m.Proposers) > 1 {
		before := len(all)
		all = Merge(all, m.MergeThreshold)
		slog.Debug("proposals merged", "before", before, "after", len(all))
	}
	return Renumber(all), nil
}

// Merge drops the smaller of any two regions whose IoU exceeds threshold.
// Larger regions are considered first so that chains of overlaps resolve to
// the largest survivor; equal areas keep input order.
func Merge(regions []detection.Region, threshold float64) []detection.Region {
	if len(regions) < 2 {
		return regions
	}
	order := make([]int, len(regions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return regions[order[a]].Box.Area() > regions[order[b]].Box.Area()
	})

	kept := make([]detection.Region, 0, len(regions))
	for _, i := range order {
		r := regions[i]
		dup := false
		for _, k := range kept {
			if detection.IoU(r.Box, k.Box) > threshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, r)
		}
	}
	return kept
}

// Renumber assigns sequential region IDs starting at 0.
func Renumber(regions []detection.Region) []detection.Region {
	for i := range regions {
		regions[i].ID = i
	}
	return regions
}
