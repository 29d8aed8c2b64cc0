package respond

import (
	"fmt"
	"strings"

	"sleuth/internal/extract"
	"sleuth/internal/session"
)

// maxLabels is how many item labels the summary lists per family.
const maxLabels = 3

var familyTitles = map[extract.Family]string{
	extract.FamilyResource:     "Resources",
	extract.FamilyIncident:     "Incidents",
	extract.FamilyTicket:       "Tickets",
	extract.FamilyChangelog:    "Changelogs",
	extract.FamilyNotification: "Notifications",
	extract.FamilyLog:          "Logs",
	extract.FamilyUnknown:      "Other results",
}

type familySummary struct {
	count  int
	labels []string
}

// Summarize writes the deterministic answer: what ran, what each entity
// family returned, and which tools failed.
func Summarize(query string, results []session.ToolResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I analyzed your query: '%s'\n", query)

	if len(results) == 0 {
		b.WriteString("No tools were run for this query.")
		return b.String()
	}

	succeeded := 0
	families := map[extract.Family]*familySummary{}
	var failed []string
	for _, r := range results {
		if !r.Success {
			msg := r.ToolName
			if r.Error != "" {
				msg += " (" + r.Error + ")"
			}
			failed = append(failed, msg)
			continue
		}
		succeeded++

		p := extract.Decode(r.ToolName, r.Payload)
		fs, ok := families[p.Family]
		if !ok {
			fs = &familySummary{}
			families[p.Family] = fs
		}
		fs.count += p.Total
		for _, item := range p.Items {
			if len(fs.labels) == maxLabels {
				break
			}
			if label := extract.Label(item); label != "" && !contains(fs.labels, label) {
				fs.labels = append(fs.labels, label)
			}
		}
	}
	fmt.Fprintf(&b, "Executed %d tools with %d successful.\n", len(results), succeeded)

	order := append(append([]extract.Family(nil), extract.Families...), extract.FamilyUnknown)
	for _, f := range order {
		fs, ok := families[f]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s: %d found", familyTitles[f], fs.count)
		if len(fs.labels) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(fs.labels, ", "))
		}
		b.WriteByte('\n')
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "Could not retrieve: %s\n", strings.Join(failed, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
