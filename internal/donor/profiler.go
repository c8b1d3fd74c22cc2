package donor

import (
	"context"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/pcileechlab/pcileechfwgen/internal/pci"
	"github.com/pcileechlab/pcileechfwgen/internal/sysfs"
)

// latencyBucketCount bounds the histogram: bucket i counts samples in
// [2^i, 2^(i+1)) nanoseconds, except that bucket 0 also takes 0 ns and the
// last bucket takes every sample of 2^23 ns or longer.
const latencyBucketCount = 24

// profiledOffsets are the header registers sampled by the profiler.
var profiledOffsets = []int{0x00, 0x04, 0x08, 0x0C, 0x10, 0x2C, 0x34, 0x3C}

// Profiler samples donor register reads over a fixed duration and
// aggregates access statistics. It never fails a build: a vanished device
// ends the run early with partial results.
type Profiler struct {
	reader   *sysfs.Reader
	bdf      pci.BDF
	Interval time.Duration
	Progress bool
}

// NewProfiler creates a Profiler with the default 10 ms sample interval.
func NewProfiler(reader *sysfs.Reader, bdf pci.BDF) *Profiler {
	return &Profiler{reader: reader, bdf: bdf, Interval: 10 * time.Millisecond}
}

// Run samples for the given duration. Cancellation via ctx aborts at the
// next sample boundary and returns the statistics gathered so far.
func (p *Profiler) Run(ctx context.Context, duration time.Duration) (*BehaviorProfile, error) {
	samples := int(duration / p.Interval)
	if samples < 1 {
		samples = 1
	}

	var bar *progressbar.ProgressBar
	if p.Progress {
		bar = progressbar.Default(int64(samples), "profiling")
	}

	accesses := make(map[int]*RegisterAccess, len(profiledOffsets))
	for _, off := range profiledOffsets {
		accesses[off] = &RegisterAccess{
			Offset:             off,
			LatencyNsHistogram: make([]uint64, latencyBucketCount),
		}
	}

	var totalLatency, totalReads uint64

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

sampling:
	for i := 0; i < samples; i++ {
		select {
		case <-ctx.Done():
			break sampling
		case <-ticker.C:
		}

		off := profiledOffsets[i%len(profiledOffsets)]
		start := time.Now()
		_, err := p.reader.ReadConfig(p.bdf)
		elapsed := time.Since(start)
		if err != nil {
			// Device went away mid-profile; keep what we have.
			break sampling
		}

		acc := accesses[off]
		acc.ReadCount++
		acc.LatencyNsHistogram[latencyBucket(elapsed.Nanoseconds())]++
		totalLatency += uint64(elapsed.Nanoseconds())
		totalReads++

		if bar != nil {
			_ = bar.Add(1)
		}
	}

	profile := &BehaviorProfile{}
	for _, off := range profiledOffsets {
		profile.RegisterAccesses = append(profile.RegisterAccesses, *accesses[off])
	}
	if totalReads > 0 {
		profile.AvgReadLatencyNs = totalLatency / totalReads
	}
	return profile, nil
}

// latencyBucket maps a nanosecond latency to its histogram bucket.
func latencyBucket(ns int64) int {
	bucket := 0
	for v := ns; v > 1 && bucket < latencyBucketCount-1; v >>= 1 {
		bucket++
	}
	return bucket
}
