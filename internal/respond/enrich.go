package respond

import (
	"fmt"
	"math"
	"strings"
	"time"

	"sleuth/internal/session"
)

var defaultForwardLinks = map[string][]string{
	session.QueryIncidentAnalysis: {"View related incidents", "Check recent changes", "Analyze error patterns"},
	session.QueryExploration:      {"See more details", "View related resources", "Check historical data"},
	session.QueryRootCause:        {"Investigate deeper", "Check dependencies", "Review recent deployments"},
}

// DefaultForwardLinks returns the canned follow-ups for a query type.
func DefaultForwardLinks(queryType string) []string {
	links, ok := defaultForwardLinks[queryType]
	if !ok {
		links = []string{"Learn more", "View details", "Check status"}
	}
	return append([]string(nil), links...)
}

// DefaultRecommendations returns the canned recommendations.
func DefaultRecommendations() []string {
	return []string{"Review the analysis results", "Monitor the situation", "Consider follow-up actions if needed"}
}

// ConfidenceTier buckets a classification confidence. Zero has no tier.
func ConfidenceTier(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "high"
	case confidence >= 0.5:
		return "medium"
	case confidence > 0:
		return "low"
	}
	return ""
}

// Annotations derives the badges shown next to an answer.
func Annotations(state session.State, now time.Time) []string {
	var out []string

	if tools := state.ExecutedTools(); len(tools) > 0 {
		shown := tools
		if len(shown) > 3 {
			shown = shown[:3]
		}
		out = append(out, fmt.Sprintf("Executed %d tools: %s", len(tools), strings.Join(shown, ", ")))
	}

	c := state.Classification()
	if tier := ConfidenceTier(c.Confidence); tier != "" {
		out = append(out, fmt.Sprintf("Analysis confidence: %s (%.0f%%)", tier, c.Confidence*100))
	}
	if entity := detectedEntity(c, state.Identifiers()); entity != "" {
		out = append(out, "Detected entity: "+entity)
	}

	out = append(out, "Analysis timestamp: "+now.Format("2006-01-02 15:04:05"))
	return out
}

func detectedEntity(c session.Classification, ids session.Identifiers) string {
	if c.ServiceName != "" {
		return c.ServiceName
	}
	for _, e := range c.Entities {
		switch {
		case e.ID != "":
			return e.Type + " " + e.ID
		case e.Name != "":
			return e.Name
		}
	}
	switch {
	case ids.ResourceName != "":
		return ids.ResourceName
	case ids.IncidentTitle != "":
		return ids.IncidentTitle
	}
	return ""
}

// Quality scores how well an answer is enriched, in [0,1].
func Quality(links, annotations []string) float64 {
	tenths := 0
	if len(links) > 0 {
		tenths += 4
	}
	if len(annotations) > 0 {
		tenths += 3
	}
	if len(links) >= 3 {
		tenths += 2
	}
	if len(annotations) >= 2 {
		tenths++
	}
	return math.Min(1, float64(tenths)/10)
}
