package metrics

import (
	"time"

	"github.com/rs/zerolog/log"
)

// The methods below satisfy the small metrics interfaces declared by the
// descriptors and learn packages. All of them accept a nil receiver so
// callers can run without metrics.

func (m *Metrics) CacheHitInc() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) CacheMissInc() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) ImageProcessed(descriptors int) {
	if m != nil {
		m.ImagesProcessed.Inc()
		m.DescriptorsExtracted.Add(float64(descriptors))
	}
}

func (m *Metrics) ExtractErrorInc() {
	if m != nil {
		m.ExtractErrors.Inc()
	}
}

func (m *Metrics) FitObserve(d time.Duration) {
	if m != nil {
		m.CVFits.Inc()
		m.CVFitDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) MemoryHitInc() {
	if m != nil {
		m.MemoryHits.Inc()
	}
}

// Timer starts timing a named stage. The returned func logs the elapsed
// time and records it in StageDuration.
//
//	defer m.Timer("Train")()
func (m *Metrics) Timer(stage string) func() {
	start := time.Now()
	log.Info().Str("stage", stage).Msg("stage started")
	return func() {
		elapsed := time.Since(start)
		if m != nil {
			m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
		}
		log.Info().Str("stage", stage).Dur("elapsed", elapsed).Msgf("%s: %s", stage, elapsed.Round(time.Millisecond))
	}
}

// SetScores publishes the final scores of a run.
func (m *Metrics) SetScores(bestCV, accuracy float64) {
	if m != nil {
		m.BestCVScore.Set(bestCV)
		m.TestAccuracy.Set(accuracy)
	}
}
