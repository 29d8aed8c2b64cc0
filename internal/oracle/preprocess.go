package oracle

import (
	"fmt"
	"sort"
	"strings"

	"sleuth/internal/extract"
	"sleuth/internal/session"
)

type familyLimit struct {
	keep   int
	fields map[string]int // field -> max length
}

var familyLimits = map[extract.Family]familyLimit{
	extract.FamilyLog:          {keep: 20, fields: map[string]int{"message": 150, "msg": 150}},
	extract.FamilyIncident:     {keep: 10, fields: map[string]int{"title": 100, "description": 150}},
	extract.FamilyChangelog:    {keep: 20, fields: map[string]int{"description": 150}},
	extract.FamilyNotification: {keep: 20, fields: map[string]int{"message": 150}},
	extract.FamilyResource:     {keep: 10},
}

// Preprocess shrinks tool results into the context handed to the narrative
// model. Lists are ranked by how well items match terms, capped per family
// and have their long text fields truncated. Failures are kept as errors.
func Preprocess(results []session.ToolResult, terms []string) map[string]any {
	out := make(map[string]any, len(results))
	for i, r := range results {
		key := r.ToolName
		if _, dup := out[key]; dup {
			key = fmt.Sprintf("%s#%d", r.ToolName, i)
		}
		if !r.Success {
			out[key] = map[string]any{"error": r.Error}
			continue
		}
		out[key] = preprocessOne(r, terms)
	}
	return out
}

func preprocessOne(r session.ToolResult, terms []string) any {
	p := extract.Decode(r.ToolName, r.Payload)
	limit, known := familyLimits[p.Family]
	if !known || len(p.Items) == 0 {
		return r.Payload
	}

	items := rank(p.Items, terms)
	if len(items) > limit.keep {
		items = items[:limit.keep]
	}

	trimmed := make([]map[string]any, len(items))
	for i, item := range items {
		if p.Family == extract.FamilyResource {
			trimmed[i] = resourceSummary(item)
			continue
		}
		trimmed[i] = truncateFields(item, limit.fields)
	}
	return map[string]any{
		"total":    p.Total,
		"returned": len(trimmed),
		"items":    trimmed,
	}
}

func resourceSummary(item map[string]any) map[string]any {
	out := map[string]any{}
	for _, k := range []string{"id", "name", "resourceName", "type", "status"} {
		if v, ok := item[k]; ok {
			out[k] = v
		}
	}
	reasons := []string{}
	if events, ok := item["events"].([]any); ok {
		for _, e := range events {
			ev, ok := e.(map[string]any)
			if !ok {
				continue
			}
			if reason, ok := ev["reason"].(string); ok && reason != "" {
				reasons = append(reasons, reason)
			}
			if len(reasons) == 5 {
				break
			}
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "NO_EVENTS")
	}
	out["events"] = reasons
	return out
}

func truncateFields(item map[string]any, fields map[string]int) map[string]any {
	out := make(map[string]any, len(item))
	for k, v := range item {
		if n, ok := fields[k]; ok {
			if s, isString := v.(string); isString {
				v = truncate(s, n)
			}
		}
		out[k] = v
	}
	return out
}

// rank orders items by match score, keeping input order among equals.
func rank(items []map[string]any, terms []string) []map[string]any {
	if len(terms) == 0 {
		return items
	}
	scores := make([]int, len(items))
	idx := make([]int, len(items))
	for i, item := range items {
		scores[i] = matchScore(item, terms)
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	out := make([]map[string]any, len(idx))
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}

// matchScore gives 3 per term found in the item text, else 1 when one of
// the item's words is part of the term.
func matchScore(item map[string]any, terms []string) int {
	text := strings.ToLower(itemText(item))
	words := strings.Fields(text)
	score := 0
	for _, t := range terms {
		t = strings.ToLower(t)
		if t == "" {
			continue
		}
		if strings.Contains(text, t) {
			score += 3
			continue
		}
		for _, w := range words {
			if strings.Contains(t, w) && len(w) > 2 {
				score++
				break
			}
		}
	}
	return score
}

func itemText(item map[string]any) string {
	var parts []string
	for _, k := range []string{"title", "name", "resourceName", "message", "msg", "description", "status", "type"} {
		if s, ok := item[k].(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
