package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/spetersoncode/weave"
)

// Sample is one time-stamped observation in a series, as produced by data
// agents and consumed by transform steps.
type Sample struct {
	Time   time.Time
	Values map[string]float64
}

// MergeTimeAligned returns a transform that joins the series produced by
// steps aID and bID. Each sample of the first series is paired with the
// nearest sample of the second within tolerance and their value maps are
// merged; on a key collision the second series wins. Unmatched samples from
// the first series pass through untouched, unmatched samples from the
// second are dropped.
//
// Both upstream outputs must be []Sample; anything else is a logical error
// and is not retried.
func MergeTimeAligned(aID, bID string, tolerance time.Duration) TransformFunc {
	return func(_ *weave.ExecutionContext, upstream map[string]any) (any, error) {
		a, err := samplesOf(upstream, aID)
		if err != nil {
			return nil, err
		}
		b, err := samplesOf(upstream, bID)
		if err != nil {
			return nil, err
		}

		a = sortedByTime(a)
		b = sortedByTime(b)

		merged := make([]Sample, 0, len(a))
		j := 0
		for _, s := range a {
			// Advance past b samples too old to ever match again.
			for j < len(b) && s.Time.Sub(b[j].Time) > tolerance {
				j++
			}
			out := Sample{Time: s.Time, Values: make(map[string]float64, len(s.Values))}
			for k, v := range s.Values {
				out.Values[k] = v
			}
			if j < len(b) && absDuration(b[j].Time.Sub(s.Time)) <= tolerance {
				for k, v := range b[j].Values {
					out.Values[k] = v
				}
			}
			merged = append(merged, out)
		}
		return merged, nil
	}
}

func samplesOf(upstream map[string]any, id string) ([]Sample, error) {
	v, ok := upstream[id]
	if !ok {
		return nil, fmt.Errorf("merge: no output from step %q", id)
	}
	s, ok := v.([]Sample)
	if !ok {
		return nil, fmt.Errorf("merge: step %q output is %T, want []Sample", id, v)
	}
	return s, nil
}

func sortedByTime(in []Sample) []Sample {
	out := make([]Sample, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
