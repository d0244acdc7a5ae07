package tracking

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Config tunes the per-frame update shared by the fast path and the replay
type Config struct {
	// MinFeatures triggers re-detection when fewer features survive a step
	MinFeatures int
	// SupportRadius is the distance within which a feature moves a label
	SupportRadius float64
	// MinSupport is the minimum number of supporting features a label needs to survive
	MinSupport int
}

// DefaultConfig returns the tuning used when none is given
func DefaultConfig() Config {
	return Config{
		MinFeatures:   20,
		SupportRadius: 40,
		MinSupport:    1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinFeatures <= 0 {
		c.MinFeatures = d.MinFeatures
	}
	if c.SupportRadius <= 0 {
		c.SupportRadius = d.SupportRadius
	}
	if c.MinSupport <= 0 {
		c.MinSupport = d.MinSupport
	}
	return c
}

// stepResult is the outcome of advancing an object by one frame
type stepResult struct {
	object   Object
	features FeatureSet
	lost     []string
}

// step advances obj from oldFrame to newFrame.
//
// Each label moves by the median displacement of the features within
// SupportRadius of it; a label left with fewer than MinSupport features is
// dropped. A failed flow computation or a frame on which no feature survives
// loses every label. An empty object or an empty feature set leave the object
// unchanged. Features are refreshed for newFrame in every degenerate case.
func step(flow FeatureTracker, cfg Config, obj Object, oldFrame Frame, oldFeatures FeatureSet, newFrame Frame) stepResult {
	if oldFrame.Empty() || len(oldFeatures) == 0 {
		return stepResult{object: obj, features: detect(flow, newFrame)}
	}

	next, valid, err := flow.AdvanceFeatures(oldFrame, newFrame, oldFeatures)
	if err != nil {
		debugMsgVerbose("FLOW", fmt.Sprintf("Advance #%d->#%d failed: %v", oldFrame.Seq, newFrame.Seq, err))
		return stepResult{features: detect(flow, newFrame), lost: obj.Names()}
	}

	n := min(len(oldFeatures), len(next), len(valid))
	from := make(FeatureSet, 0, n)
	to := make(FeatureSet, 0, n)
	for i := 0; i < n; i++ {
		if valid[i] {
			from = append(from, oldFeatures[i])
			to = append(to, next[i])
		}
	}

	if len(to) == 0 {
		debugMsgVerbose("FLOW", fmt.Sprintf("No feature survived #%d->#%d", oldFrame.Seq, newFrame.Seq))
		return stepResult{features: detect(flow, newFrame), lost: obj.Names()}
	}

	res := stepResult{object: obj, features: to}

	if !obj.Empty() {
		res.object, res.lost = moveLabels(obj, from, to, cfg)
	}

	if len(to) < cfg.MinFeatures {
		if fresh := detect(flow, newFrame); len(fresh) > 0 {
			res.features = fresh
		}
	}
	return res
}

// moveLabels applies the per-label median displacement of from->to
func moveLabels(obj Object, from, to FeatureSet, cfg Config) (Object, []string) {
	var (
		out  Object
		lost []string
		dxs  []float64
		dys  []float64
	)
	for _, l := range obj.labels {
		dxs, dys = dxs[:0], dys[:0]
		for i := range from {
			if from[i].Dist(l.Position) <= cfg.SupportRadius {
				dxs = append(dxs, to[i].X-from[i].X)
				dys = append(dys, to[i].Y-from[i].Y)
			}
		}
		if len(dxs) < cfg.MinSupport {
			lost = append(lost, l.Name)
			continue
		}
		l.Position = l.Position.Add(median(dxs), median(dys))
		out.SetLabel(l)
	}
	return out, lost
}

// median returns the lower median of xs. xs is sorted in place and must not be empty.
func median(xs []float64) float64 {
	sort.Float64s(xs)
	return stat.Quantile(0.5, stat.Empirical, xs, nil)
}

// detect computes features for frame, returning nil on failure
func detect(flow FeatureTracker, frame Frame) FeatureSet {
	if frame.Empty() {
		return nil
	}
	fs, err := flow.ComputeFeatures(frame)
	if err != nil {
		debugMsgVerbose("FLOW", fmt.Sprintf("Feature detection on #%d failed: %v", frame.Seq, err))
		return nil
	}
	return fs
}
