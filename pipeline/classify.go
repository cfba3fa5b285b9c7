package pipeline

import (
	"strings"

	"github.com/spetersoncode/weave"
)

// keywordFamily associates an analysis type with the query keywords that
// select it.
type keywordFamily struct {
	atype    weave.AnalysisType
	keywords []string
}

// families is the classification priority list. The first family with a
// matching keyword wins, so a query like "quality impact of downtime" is a
// quality analysis.
var families = []keywordFamily{
	{weave.AnalysisQuality, []string{"quality", "defect", "scrap", "rework", "yield", "reject"}},
	{weave.AnalysisOEE, []string{"oee", "overall equipment", "effectiveness", "availability", "utilization"}},
	{weave.AnalysisDowntime, []string{"downtime", "down time", "stoppage", "outage", "breakdown", "idle"}},
	{weave.AnalysisProduction, []string{"production", "output", "throughput", "units produced", "cycle time", "takt"}},
	{weave.AnalysisMaintenance, []string{"maintenance", "repair", "mtbf", "mttr", "service interval", "wear"}},
	{weave.AnalysisEnergy, []string{"energy", "power", "consumption", "kwh", "electricity"}},
}

// Classify infers the analysis type from free-form query text. Matching is
// case-insensitive substring search; nothing matching falls back to the
// general analysis type.
func Classify(query string) weave.AnalysisType {
	q := strings.ToLower(query)
	for _, fam := range families {
		for _, kw := range fam.keywords {
			if strings.Contains(q, kw) {
				return fam.atype
			}
		}
	}
	return weave.AnalysisGeneral
}
