package metrics

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// StatSummary holds summary statistics for one set of durations.
type StatSummary struct {
	Count int
	Mean  time.Duration
	P50   time.Duration // Median
	P95   time.Duration
	Min   time.Duration
	Max   time.Duration
}

// TimeTotalsStats holds a StatSummary for each clock.
type TimeTotalsStats struct {
	WallClock StatSummary
	User      StatSummary
	System    StatSummary
}

// ComponentResult holds the summaries of one phase, e.g. "VerifyCommits".
type ComponentResult struct {
	ConceptualName string
	// Keyed by derived metric: "WallClock" (inclusive), "Logic" (own work) or a
	// measurement type such as "DiskRead" or "Pairing".
	Summaries map[string]TimeTotalsStats
}

// AnalysisResult is the output of the analyzer.
type AnalysisResult struct {
	Components map[string]ComponentResult
	Recorders  []*Recorder
}

// Analyzer aggregates the recorders of one or more runs.
type Analyzer struct {
	recorders []*Recorder
}

// NewAnalyzer creates a new analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Add collects the recorder of one run.
func (a *Analyzer) Add(recorder *Recorder) {
	a.recorders = append(a.recorders, recorder)
}

func (t TimeTotals) plus(o TimeTotals) TimeTotals {
	return TimeTotals{t.WallClock + o.WallClock, t.UserTime + o.UserTime, t.SystemTime + o.SystemTime}
}

// minus never goes below zero: rusage granularity can make children exceed their parent.
func (t TimeTotals) minus(o TimeTotals) TimeTotals {
	return TimeTotals{
		nonNegative(t.WallClock - o.WallClock),
		nonNegative(t.UserTime - o.UserTime),
		nonNegative(t.SystemTime - o.SystemTime),
	}
}

func (t TimeTotals) zero() bool {
	return t.WallClock == 0 && t.UserTime == 0 && t.SystemTime == 0
}

// series collects the samples of one derived metric.
type series struct {
	wall, user, system []time.Duration
}

func (s *series) add(t TimeTotals) {
	s.wall = append(s.wall, t.WallClock)
	s.user = append(s.user, t.UserTime)
	s.system = append(s.system, t.SystemTime)
}

func (s *series) stats() TimeTotalsStats {
	return TimeTotalsStats{
		WallClock: Summarize(s.wall),
		User:      Summarize(s.user),
		System:    Summarize(s.system),
	}
}

// samples is keyed by phase name, then derived metric.
type samples map[string]map[string]*series

func (s samples) add(phase, metric string, t TimeTotals) {
	m, ok := s[phase]
	if !ok {
		m = make(map[string]*series)
		s[phase] = m
	}
	ser, ok := m[metric]
	if !ok {
		ser = &series{}
		m[metric] = ser
	}
	ser.add(t)
}

// Analyze summarizes every MLogic phase found in the collected recorders.
func (a *Analyzer) Analyze() AnalysisResult {
	collected := make(samples)
	for _, rec := range a.recorders {
		for _, root := range rec.RootMeasurements() {
			collect(root, collected)
		}
	}

	res := AnalysisResult{
		Components: make(map[string]ComponentResult, len(collected)),
		Recorders:  a.recorders,
	}
	for phase, metrics := range collected {
		comp := ComponentResult{ConceptualName: phase, Summaries: make(map[string]TimeTotalsStats, len(metrics))}
		for name, ser := range metrics {
			comp.Summaries[name] = ser.stats()
		}
		res.Components[phase] = comp
	}
	return res
}

// collect walks the subtree at m and returns the time it contributes to its
// parent, split by measurement type. Only MLogic nodes become phases; time
// spent in other kinds of children is reported separately and subtracted from
// the phase's own Logic time.
func collect(m *Measurement, out samples) map[MeasurementType]TimeTotals {
	below := make(map[MeasurementType]TimeTotals)
	for _, child := range m.Children {
		for mt, t := range collect(child, out) {
			below[mt] = below[mt].plus(t)
		}
	}

	if m.Type == MLogic {
		out.add(m.ConceptualName, "WallClock", m.Inclusive)
		var other TimeTotals
		for mt, t := range below {
			if mt == MLogic || t.zero() {
				continue
			}
			other = other.plus(t)
			out.add(m.ConceptualName, mt.String(), t)
		}
		out.add(m.ConceptualName, "Logic", m.Inclusive.minus(other))
	}

	up := make(map[MeasurementType]TimeTotals, len(below)+1)
	for mt, t := range below {
		up[mt] = t
	}
	up[m.Type] = up[m.Type].plus(m.Inclusive)
	return up
}

// Summarize computes summary stats for a set of durations, such as per-round
// verification times.
func Summarize(durations []time.Duration) StatSummary {
	if len(durations) == 0 {
		return StatSummary{}
	}

	floats := make([]float64, len(durations))
	mmin, mmax := durations[0], durations[0]
	for i, v := range durations {
		floats[i] = float64(v.Microseconds())
		if v < mmin {
			mmin = v
		}
		if v > mmax {
			mmax = v
		}
	}
	sort.Float64s(floats)

	us := func(f float64) time.Duration { return time.Duration(f) * time.Microsecond }
	return StatSummary{
		Count: len(durations),
		Mean:  us(stat.Mean(floats, nil)),
		P50:   us(stat.Quantile(0.5, stat.Empirical, floats, nil)),
		P95:   us(stat.Quantile(0.95, stat.Empirical, floats, nil)),
		Min:   mmin,
		Max:   mmax,
	}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
