// Package patient resolves the regions of one structure set against its image
// stack and exports them as PLY point clouds.
package patient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"

	"dicom2ply/internal/models"
	"dicom2ply/pkg/metrics"
	"dicom2ply/pkg/roi"
)

// ErrMissingStructureSet is returned when no structure set document is found
var ErrMissingStructureSet = errors.New("structure set not found")

// Reason explains why an entry or region was skipped
type Reason string

const (
	ReasonUnlabeledGeometry Reason = "unlabeled-geometry"
	ReasonNonGeometric      Reason = "non-geometric"
	ReasonEmptyStatistics   Reason = "empty-statistics"
	ReasonRegionFailure     Reason = "region-failure"
	ReasonDuplicateLabel    Reason = "duplicate-label"
	ReasonCancelled         Reason = "cancelled"

	// Export reasons
	ReasonUnknownRegion       Reason = "unknown-region"
	ReasonUndefinedStatistics Reason = "undefined-statistics"
	ReasonWriteFailure        Reason = "write-failure"
)

// Skip records one entry or region left out of the run
type Skip struct {
	Name   string
	Number int
	Reason Reason
	Detail string
}

// Report lists everything skipped while resolving a patient
type Report struct {
	Skipped []Skip
}

// Patient is the set of regions resolved from one source directory
type Patient struct {
	Dir string

	// Labels maps ROI numbers to their observation labels
	Labels map[int]string

	Regions map[string]*roi.Region

	// Order lists region names in resolution order
	Order []string

	Report Report
}

// RegionNames returns the resolved region names in resolution order
func (p *Patient) RegionNames() []string {
	return append([]string(nil), p.Order...)
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger used for diagnostics
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics sets the counters updated by the pipeline
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithWorkers bounds the number of regions built concurrently.
// Values below 1 select runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// Pipeline turns a decoded structure set into exported regions
type Pipeline struct {
	builder roi.Builder
	cache   *SliceCache
	logger  *slog.Logger
	metrics *metrics.Metrics
	workers int
}

// New creates a pipeline. The builder's slice source is wrapped in a
// SliceCache owned by the pipeline.
func New(builder roi.Builder, opts ...Option) *Pipeline {
	p := &Pipeline{}
	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}
	if p.workers < 1 {
		p.workers = runtime.NumCPU()
	}

	p.cache = NewSliceCache(builder.Slices, p.metrics)
	builder.Slices = p.cache
	if builder.Logger == nil {
		builder.Logger = p.logger
	}
	p.builder = builder
	return p
}

// Metrics returns the counters updated by the pipeline
func (p *Pipeline) Metrics() *metrics.Metrics {
	return p.metrics
}

// Cache returns the pipeline's slice cache
func (p *Pipeline) Cache() *SliceCache {
	return p.cache
}

func (p *Pipeline) skip(report *Report, s Skip) {
	p.logger.Info("Skipping region", "name", s.Name, "number", s.Number, "reason", s.Reason, "detail", s.Detail)
	p.metrics.RegionSkipped(string(s.Reason))
	report.Skipped = append(report.Skipped, s)
}

type job struct {
	number   int
	name     string
	contours []models.ContourGeometry
}

type outcome struct {
	scheduled bool
	region    *roi.Region
	err       error
}

// Resolve labels the geometry entries of ss, builds each surviving region and
// keeps those with defined statistics. Failures are isolated per region and
// recorded in the patient's report. When ctx is cancelled no further regions
// are scheduled and regions interrupted mid-build are reported as cancelled;
// regions already built are kept.
func (p *Pipeline) Resolve(ctx context.Context, dir string, ss *models.StructureSet) (*Patient, error) {
	if ss == nil {
		return nil, ErrMissingStructureSet
	}

	pt := &Patient{
		Dir:     dir,
		Labels:  make(map[int]string, len(ss.Observations)),
		Regions: make(map[string]*roi.Region),
	}

	for i, obs := range ss.Observations {
		label := strconv.Itoa(i)
		if obs.Label != nil {
			label = *obs.Label
		}
		pt.Labels[obs.Number] = label
	}

	var jobs []job
	for _, entry := range ss.Geometry {
		name, ok := pt.Labels[entry.ReferencedNumber]
		if !ok {
			p.skip(&pt.Report, Skip{
				Number: entry.ReferencedNumber,
				Reason: ReasonUnlabeledGeometry,
				Detail: "no observation record for ROI number",
			})
			continue
		}
		if !entry.HasContours {
			p.skip(&pt.Report, Skip{
				Name:   name,
				Number: entry.ReferencedNumber,
				Reason: ReasonNonGeometric,
				Detail: "entry has no contour sequence",
			})
			continue
		}
		jobs = append(jobs, job{number: entry.ReferencedNumber, name: name, contours: entry.Contours})
	}

	p.logger.Debug("Resolving regions", "dir", dir, "regions", len(jobs), "workers", p.workers)

	results := make([]outcome, len(jobs))
	g := new(errgroup.Group)
	g.SetLimit(p.workers)

	for i, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		results[i].scheduled = true
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i].err = fmt.Errorf("panic while building region %s: %v", j.name, r)
				}
			}()
			results[i].region = p.builder.Build(ctx, j.number, j.name, j.contours)
			return nil
		})
	}
	// Workers never return errors; failures live in their result slots
	_ = g.Wait()

	for i, j := range jobs {
		res := results[i]
		switch {
		case !res.scheduled:
			p.skip(&pt.Report, Skip{Name: j.name, Number: j.number, Reason: ReasonCancelled, Detail: ctx.Err().Error()})
			continue
		case res.err != nil:
			p.logger.Warn("Region build failed", "name", j.name, "error", res.err)
			p.skip(&pt.Report, Skip{Name: j.name, Number: j.number, Reason: ReasonRegionFailure, Detail: res.err.Error()})
			continue
		}

		region := res.region
		if region.Interrupted != nil {
			p.skip(&pt.Report, Skip{Name: j.name, Number: j.number, Reason: ReasonCancelled, Detail: region.Interrupted.Error()})
			continue
		}

		for _, d := range region.Dropped {
			p.metrics.ContourDropped(string(d.Reason))
		}
		p.metrics.ContoursKept.Add(uint64(region.Len()))

		if region.Stats == nil {
			p.skip(&pt.Report, Skip{
				Name:   j.name,
				Number: j.number,
				Reason: ReasonEmptyStatistics,
				Detail: fmt.Sprintf("no kept contours (%d dropped)", len(region.Dropped)),
			})
			continue
		}

		if prev, ok := pt.Regions[j.name]; ok {
			p.skip(&pt.Report, Skip{
				Name:   prev.Name,
				Number: prev.Number,
				Reason: ReasonDuplicateLabel,
				Detail: fmt.Sprintf("replaced by ROI number %d", j.number),
			})
		} else {
			pt.Order = append(pt.Order, j.name)
		}
		pt.Regions[j.name] = region
	}

	p.metrics.RegionsResolved.Add(uint64(len(pt.Regions)))
	p.logger.Debug("Resolved regions", "kept", len(pt.Regions), "skipped", len(pt.Report.Skipped), "cached_slices", p.cache.Len())
	return pt, nil
}
