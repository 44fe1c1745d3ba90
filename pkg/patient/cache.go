package patient

import (
	"context"
	"sync"

	"dicom2ply/internal/models"
	"dicom2ply/pkg/metrics"
	"dicom2ply/pkg/roi"
)

type cacheEntry struct {
	image *models.SliceImage
	err   error
}

// SliceCache memoises slice lookups per SOP instance UID. Entries are filled on
// first read; two workers racing on the same key both read the source and the
// last store wins. Failed lookups are memoised as well.
type SliceCache struct {
	source  roi.SliceSource
	metrics *metrics.Metrics
	entries sync.Map
}

// NewSliceCache wraps source. m may be nil.
func NewSliceCache(source roi.SliceSource, m *metrics.Metrics) *SliceCache {
	return &SliceCache{source: source, metrics: m}
}

// Slice implements roi.SliceSource
func (c *SliceCache) Slice(ctx context.Context, ref string) (*models.SliceImage, error) {
	if v, ok := c.entries.Load(ref); ok {
		if c.metrics != nil {
			c.metrics.SliceCacheHits.Add(1)
		}
		e := v.(*cacheEntry)
		return e.image, e.err
	}

	if c.metrics != nil {
		c.metrics.SliceCacheMisses.Add(1)
	}
	img, err := c.source.Slice(ctx, ref)

	// A cancelled run must not poison the cache
	if ctx.Err() == nil {
		c.entries.Store(ref, &cacheEntry{image: img, err: err})
	}
	return img, err
}

// Len returns the number of memoised slices
func (c *SliceCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
