// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysisqueue

import (
	"runtime"

	"github.com/rs/zerolog"
)

const (
	minStreamingBatchSize   = 10
	maxDegradeThreshold     = 0.9
	thresholdStepPerDegrade = 0.05
)

// degradationState tracks the progressive-degradation policy across the
// sequential execution of one job's analysis types: each type's entry
// checks the process heap against budgetByte*threshold, and on breach
// requests a GC, halves batchSize (floored), and raises threshold (capped).
type degradationState struct {
	threshold  float64
	batchSize  int
	budgetByte int64
	exceeded   bool
	degrades   int
}

// checkAndAdjust samples the current heap via runtime.ReadMemStats and, if
// it is over budget, applies one round of degradation.
func (d *degradationState) checkAndAdjust(log *zerolog.Logger) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	if d.budgetByte <= 0 {
		return
	}
	fraction := float64(stats.HeapAlloc) / float64(d.budgetByte)
	if fraction < d.threshold {
		return
	}

	d.exceeded = true
	d.degrades++
	runtime.GC()

	d.batchSize /= 2
	if d.batchSize < minStreamingBatchSize {
		d.batchSize = minStreamingBatchSize
	}

	d.threshold += thresholdStepPerDegrade
	if d.threshold > maxDegradeThreshold {
		d.threshold = maxDegradeThreshold
	}

	if log != nil {
		log.Warn().
			Float64("heapFraction", fraction).
			Int("batchSize", d.batchSize).
			Float64("threshold", d.threshold).
			Int("degrades", d.degrades).
			Msg("analysis heap over threshold, degrading")
	}
}
