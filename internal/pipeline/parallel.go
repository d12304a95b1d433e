package pipeline

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sort"
	"sync"

	"github.com/MeKo-Tech/omnishelf/internal/classifier"
	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
)

// regionJob is a single crop classification job.
type regionJob struct {
	index  int
	region detection.Region
}

// regionResult is the outcome of classifying one region.
type regionResult struct {
	index int
	pred  classifier.Prediction
	err   error
}

// classifyRegions classifies every region with a worker pool and returns the
// predictions in the same order as regions. The first error cancels the
// remaining jobs.
func (p *Pipeline) classifyRegions(
	ctx context.Context,
	img image.Image,
	regions []detection.Region,
	obs Observer,
) ([]classifier.Prediction, error) {
	preds := make([]classifier.Prediction, len(regions))
	if len(regions) == 0 {
		return preds, nil
	}

	workers := p.cfg.Parallel.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(regions) {
		workers = len(regions)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan regionJob, len(regions))
	results := make(chan regionResult, len(regions))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go p.classifyWorker(ctx, img, jobs, results, &wg)
	}

	for i, r := range regions {
		jobs <- regionJob{index: i, region: r}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	done := 0
	for res := range results {
		done++
		if res.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("region %d: %w", regions[res.index].ID, res.err)
				cancel()
			}
			continue
		}
		preds[res.index] = res.pred
		obs.OnProgress(StageClassify, done, len(regions))
	}

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return preds, nil
}

// classifyWorker processes regions from the jobs channel.
func (p *Pipeline) classifyWorker(
	ctx context.Context,
	img image.Image,
	jobs <-chan regionJob,
	results chan<- regionResult,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	for job := range jobs {
		if err := ctx.Err(); err != nil {
			results <- regionResult{index: job.index, err: err}
			continue
		}
		crop := utils.CropImageBox(img, job.region.Box)
		pred, err := p.classifier.Classify(ctx, crop)
		results <- regionResult{index: job.index, pred: pred, err: err}
	}
}

// sortByRegionID restores proposal order after concurrent processing.
func sortByRegionID(dets []detection.Detection) {
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Region.ID < dets[j].Region.ID })
}
