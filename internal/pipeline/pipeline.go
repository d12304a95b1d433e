// Package pipeline wires region proposal, classification, deduplication and
// verification into a single shelf detection run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/omnishelf/internal/catalog"
	"github.com/MeKo-Tech/omnishelf/internal/classifier"
	"github.com/MeKo-Tech/omnishelf/internal/common"
	"github.com/MeKo-Tech/omnishelf/internal/detection"
	"github.com/MeKo-Tech/omnishelf/internal/models"
	"github.com/MeKo-Tech/omnishelf/internal/nms"
	"github.com/MeKo-Tech/omnishelf/internal/proposer"
	"github.com/MeKo-Tech/omnishelf/internal/utils"
	"github.com/MeKo-Tech/omnishelf/internal/verifier"
	"github.com/MeKo-Tech/omnishelf/internal/yolo"
)

// Builder constructs a Pipeline with fluent configuration. Components not
// supplied explicitly are created from the config when Build runs.
type Builder struct {
	cfg        Config
	proposers  []proposer.Proposer
	classifier classifier.Classifier
	verifier   *verifier.Verifier
	catalog    *catalog.Catalog
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithModelsDir sets the models directory.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir != "" {
		b.cfg.ModelsDir = dir
	}
	return b
}

// WithStrategies selects the proposal strategies.
func (b *Builder) WithStrategies(strategies ...string) *Builder {
	if len(strategies) > 0 {
		b.cfg.Strategies = strategies
	}
	return b
}

// WithProposers uses the given proposers instead of building them from the
// configured strategies.
func (b *Builder) WithProposers(ps ...proposer.Proposer) *Builder {
	b.proposers = ps
	return b
}

// WithClassifier uses c instead of loading the classifier model.
func (b *Builder) WithClassifier(c classifier.Classifier) *Builder {
	b.classifier = c
	return b
}

// WithVerifier uses v instead of building one from the verification config.
func (b *Builder) WithVerifier(v *verifier.Verifier) *Builder {
	b.verifier = v
	if v != nil && v.Available() {
		b.cfg.Verification.Enabled = true
	}
	return b
}

// WithCatalog sets the product catalog.
func (b *Builder) WithCatalog(c *catalog.Catalog) *Builder {
	b.catalog = c
	return b
}

// WithClassificationFloor sets the classification confidence floor.
func (b *Builder) WithClassificationFloor(floor float64) *Builder {
	b.cfg.Classifier.Floor = floor
	return b
}

// WithNMS configures deduplication.
func (b *Builder) WithNMS(iou float64, mode nms.Mode) *Builder {
	if iou > 0 {
		b.cfg.NMS.IoUThreshold = iou
	}
	if mode != "" {
		b.cfg.NMS.Mode = mode
	}
	return b
}

// WithReportUnmatched keeps unclassified regions in the output.
func (b *Builder) WithReportUnmatched(report bool) *Builder {
	b.cfg.ReportUnmatched = report
	return b
}

// WithParallelWorkers sets the number of classification workers.
func (b *Builder) WithParallelWorkers(workers int) *Builder {
	if workers > 0 {
		b.cfg.Parallel.MaxWorkers = workers
	}
	return b
}

// WithGPU enables GPU acceleration for all models.
func (b *Builder) WithGPU(enabled bool) *Builder {
	b.cfg.GPU.UseGPU = enabled
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Pipeline runs shelf detection. Safe for concurrent use; each Detect call
// is an independent run.
type Pipeline struct {
	cfg        Config
	proposer   proposer.Proposer
	classifier classifier.Classifier
	verifier   *verifier.Verifier
	catalog    *catalog.Catalog
	profiler   *Profiler
	closers    []func()
}

// NewFromConfig builds a pipeline entirely from cfg, loading model weights.
func NewFromConfig(cfg Config) (*Pipeline, error) {
	return NewBuilder().WithConfig(cfg).Build()
}

// Build initializes the pipeline components. Missing or unloadable model
// weights fail with ModelUnavailableError. An unavailable verifier is logged
// and the pipeline runs unverified.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	p := &Pipeline{cfg: b.cfg, profiler: &Profiler{}}

	cat := b.catalog
	if cat == nil {
		c, err := catalog.LoadOrDefault(b.cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		cat = c
	}
	p.catalog = cat

	if len(b.proposers) > 0 {
		p.proposer = proposer.NewMulti(b.cfg.MergeThreshold, b.proposers...)
	} else {
		pr, err := p.buildProposers()
		if err != nil {
			p.Close()
			return nil, err
		}
		p.proposer = pr
	}

	p.classifier = b.classifier
	if p.classifier == nil {
		c, err := p.buildClassifier()
		if err != nil {
			p.Close()
			return nil, err
		}
		p.classifier = c
	}

	p.verifier = b.verifier
	if p.verifier == nil {
		v, err := verifier.NewFromConfig(b.cfg.Verification, cat)
		if err != nil && b.cfg.Verification.Enabled {
			slog.Warn("verifier unavailable, detections stay unverified", "error", err)
		}
		p.verifier = v
	}

	slog.Debug("pipeline built", "proposer", p.proposer.Name(),
		"verifier", p.verifier.Available(), "catalog_products", cat.Len())
	return p, nil
}

func (p *Pipeline) buildProposers() (proposer.Proposer, error) {
	var ps []proposer.Proposer
	for _, s := range p.cfg.Strategies {
		switch s {
		case proposer.StrategySlidingWindow:
			sw, err := proposer.NewSlidingWindow(p.cfg.SlidingWindow)
			if err != nil {
				return nil, err
			}
			ps = append(ps, sw)
		case proposer.StrategyContourGrid:
			cg, err := proposer.NewContourGrid(p.cfg.Contour, nil)
			if err != nil {
				return nil, err
			}
			slog.Debug("contour proposer ready", "edge_backend", cg.Backend())
			ps = append(ps, cg)
		case proposer.StrategyGenericDetector:
			ycfg := yolo.DefaultConfig("generic-detector", p.cfg.GenericModelPath())
			ycfg.DefaultLabels = &yolo.COCOLabels
			ycfg.NumThreads = p.cfg.Generic.NumThreads
			ycfg.GPU = p.cfg.GPU
			model, err := yolo.NewModel(ycfg)
			if err != nil {
				return nil, err
			}
			p.closers = append(p.closers, model.Close)
			gd, err := proposer.NewGenericDetector(model, p.cfg.Generic.GenericDetectorConfig)
			if err != nil {
				return nil, err
			}
			ps = append(ps, gd)
		}
	}
	return proposer.NewMulti(p.cfg.MergeThreshold, ps...), nil
}

func (p *Pipeline) buildClassifier() (classifier.Classifier, error) {
	ycfg := yolo.DefaultConfig("classifier", p.cfg.ClassifierModelPath())
	ycfg.LabelsPath = models.GetLabelsPath(p.cfg.ModelsDir, p.cfg.Classifier.LabelsPath)
	ycfg.LabelPrefix = yolo.ProductLabelPrefix
	ycfg.NumThreads = p.cfg.Classifier.NumThreads
	ycfg.GPU = p.cfg.GPU
	model, err := yolo.NewModel(ycfg)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, model.Close)
	return classifier.NewAdapter(model, p.cfg.Classifier.Config)
}

// Close releases model sessions.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Catalog returns the product catalog.
func (p *Pipeline) Catalog() *catalog.Catalog { return p.catalog }

// VerifierAvailable reports whether detections will be verified.
func (p *Pipeline) VerifierAvailable() bool {
	return p.cfg.Verification.Enabled && p.verifier.Available()
}

// Profiler returns cumulative run statistics.
func (p *Pipeline) Profiler() *Profiler { return p.profiler }

// Info returns a map with key pipeline properties.
func (p *Pipeline) Info() map[string]any {
	return map[string]any{
		"models_dir":       p.cfg.ModelsDir,
		"proposer":         p.proposer.Name(),
		"strategies":       p.cfg.Strategies,
		"report_unmatched": p.cfg.ReportUnmatched,
		"classifier": map[string]any{
			"confidence_floor": p.cfg.Classifier.Floor,
			"min_crop_size":    p.cfg.Classifier.MinCropSize,
		},
		"nms": map[string]any{
			"iou_threshold": p.cfg.NMS.IoUThreshold,
			"mode":          string(p.cfg.NMS.Mode),
		},
		"verification": map[string]any{
			"enabled":         p.VerifierAvailable(),
			"trust_threshold": p.cfg.Verification.TrustThreshold,
		},
		"catalog_products": p.catalog.Len(),
		"max_workers":      p.cfg.Parallel.MaxWorkers,
	}
}

// DetectFile loads the image at path and runs detection. An unreadable
// image fails with InputError before any stage runs.
func (p *Pipeline) DetectFile(ctx context.Context, path string, obs Observer) (*Result, error) {
	img, _, err := utils.LoadImage(path)
	if err != nil {
		var inner error = err
		if errors.Is(err, os.ErrNotExist) {
			inner = fmt.Errorf("file not found: %w", err)
		}
		return nil, &common.InputError{Path: path, Err: inner}
	}
	return p.Detect(ctx, img, obs)
}

// DetectBytes decodes data and runs detection.
func (p *Pipeline) DetectBytes(ctx context.Context, data []byte, obs Observer) (*Result, error) {
	img, _, err := utils.DecodeImage(data)
	if err != nil {
		return nil, &common.InputError{Err: err}
	}
	return p.Detect(ctx, img, obs)
}

// Detect runs all stages on img. obs may be nil.
func (p *Pipeline) Detect(ctx context.Context, img image.Image, obs Observer) (*Result, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, &common.InputError{Err: errors.New("empty image")}
	}
	if obs == nil {
		obs = NoOpObserver{}
	}
	if b := img.Bounds(); b.Min != (image.Point{}) {
		img = imaging.Clone(img)
	}

	sm := newStateMachine(obs)
	timings := common.NewStageTimings()
	start := time.Now()
	res := &Result{
		ImageWidth:  img.Bounds().Dx(),
		ImageHeight: img.Bounds().Dy(),
	}

	// Propose
	if err := sm.enter(StateProposing); err != nil {
		return nil, err
	}
	t := common.NewNamedTimer(StagePropose)
	regions, err := p.proposer.Propose(ctx, img)
	t.Stop()
	timings.Record(t)
	if err != nil {
		return nil, sm.fail(&common.StageError{Stage: StagePropose, Err: err})
	}
	res.TotalProposals = len(regions)
	obs.OnProgress(StagePropose, len(regions), len(regions))

	// Classify
	if err := sm.enter(StateClassifying); err != nil {
		return nil, err
	}
	t = common.NewNamedTimer(StageClassify)
	preds, err := p.classifyRegions(ctx, img, regions, obs)
	t.Stop()
	timings.Record(t)
	if err != nil {
		return nil, sm.fail(&common.StageError{Stage: StageClassify, Err: err})
	}
	dets := p.toDetections(regions, preds)
	sortByRegionID(dets)
	for _, d := range dets {
		if d.Classified() {
			res.TotalClassified++
		}
	}

	// Deduplicate
	if err := sm.enter(StateDeduping); err != nil {
		return nil, err
	}
	t = common.NewNamedTimer(StageNMS)
	dets = nms.Suppress(dets, p.cfg.NMS.IoUThreshold, p.cfg.NMS.Mode)
	t.Stop()
	timings.Record(t)

	// Verify
	res.Verification.Enabled = p.VerifierAvailable()
	if res.Verification.Enabled {
		if err := sm.enter(StateVerifying); err != nil {
			return nil, err
		}
		t = common.NewNamedTimer(StageVerify)
		dets, res.Verification = p.verifier.Verify(ctx, img, dets)
		t.Stop()
		timings.Record(t)
		if err := ctx.Err(); err != nil {
			return nil, sm.fail(&common.StageError{Stage: StageVerify, Err: err})
		}
	}

	res.Detections = dets
	res.ProductCounts = detection.CountProducts(dets)
	res.Timings = timings.Snapshot()
	res.TotalDuration = time.Since(start)
	if err := sm.enter(StateDone); err != nil {
		return nil, err
	}
	p.profiler.Record(res)

	slog.Debug("detection finished",
		"proposals", res.TotalProposals,
		"classified", res.TotalClassified,
		"detections", len(res.Detections),
		"timings", timings.String())
	return res, nil
}

// toDetections pairs regions with predictions, dropping unclassified regions
// unless ReportUnmatched is set.
func (p *Pipeline) toDetections(regions []detection.Region, preds []classifier.Prediction) []detection.Detection {
	dets := make([]detection.Detection, 0, len(regions))
	for i, r := range regions {
		pred := preds[i]
		d := detection.Detection{
			Region:             r,
			SourceMethod:       r.Method,
			VerificationStatus: detection.StatusUnverified,
		}
		if pred.Classified {
			entry := p.catalog.Resolve(pred.Code)
			d.ProductCode = pred.Code
			d.DisplayName = entry.DisplayName
			d.Category = entry.Category
			d.Confidence = pred.Confidence
		} else {
			if !p.cfg.ReportUnmatched {
				continue
			}
			d.ProductCode = detection.UnclassifiedCode
			d.DisplayName = detection.UnclassifiedName
			d.Category = detection.UnclassifiedCategory
		}
		dets = append(dets, d)
	}
	return dets
}
