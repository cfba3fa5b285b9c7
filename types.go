package weave

import "time"

// AnalysisType classifies what kind of analysis a run is asking for.
// The pipeline facade infers it from the query when the caller does not
// provide one.
type AnalysisType string

const (
	AnalysisQuality     AnalysisType = "quality"
	AnalysisOEE         AnalysisType = "oee"
	AnalysisDowntime    AnalysisType = "downtime"
	AnalysisProduction  AnalysisType = "production"
	AnalysisMaintenance AnalysisType = "maintenance"
	AnalysisEnergy      AnalysisType = "energy"

	// AnalysisGeneral is the fallback when no keyword family matches.
	AnalysisGeneral AnalysisType = "general"
)

// TimeRange bounds the data window an analysis run looks at.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DefaultTimeRange returns the trailing 24 hours ending at now.
func DefaultTimeRange(now time.Time) TimeRange {
	return TimeRange{Start: now.Add(-24 * time.Hour), End: now}
}

// Duration returns the span covered by the range.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// IsZero reports whether the range is unset.
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Visualization describes one chart or table produced by an agent.
// Spec is an opaque chart specification consumed by the rendering layer.
type Visualization struct {
	Type  string         `json:"type"`
	Title string         `json:"title"`
	Spec  map[string]any `json:"spec,omitempty"`
}

// Reference points at supporting material an agent used.
type Reference struct {
	Title  string `json:"title"`
	URL    string `json:"url,omitempty"`
	Source string `json:"source,omitempty"`
}

// AgentResult is what an Agent returns from one invocation.
//
// Confidence is in [0, 1]. DataPoints reports how many underlying data points
// the agent processed, so the aggregator can total them across steps. Errors
// carries internal, non-fatal problems the agent wants surfaced; a populated
// Errors slice with usable Content still counts as success.
type AgentResult struct {
	Content        string          `json:"content,omitempty"`
	Confidence     float64         `json:"confidence"`
	Visualizations []Visualization `json:"visualizations,omitempty"`
	References     []Reference     `json:"references,omitempty"`
	DataPoints     int             `json:"dataPoints,omitempty"`
	Errors         []string        `json:"errors,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}
