package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sleuth/internal/session"
)

func ok(tool string, payload any) session.ToolResult {
	return session.ToolResult{ToolName: tool, Success: true, Payload: payload}
}

func TestDetectFamily(t *testing.T) {
	tests := map[string]Family{
		"get_incident_changelogs":        FamilyChangelog,
		"get_changelog_list_by_resource": FamilyChangelog,
		"get_notifications_by_resource":  FamilyNotification,
		"query_logs":                     FamilyLog,
		"get_resource_tickets":           FamilyTicket,
		"search_incidents":               FamilyIncident,
		"get_resource_by_id":             FamilyResource,
		"query_metrics":                  FamilyUnknown,
	}
	for tool, want := range tests {
		assert.Equal(t, want, DetectFamily(tool), tool)
	}

	assert.True(t, IsSearch("search_resources"))
	assert.True(t, IsSearch("query_logs"))
	assert.False(t, IsSearch("get_resource_by_id"))
}

func TestIdentifiers_ResourceSearch(t *testing.T) {
	ids := Identifiers([]session.ToolResult{
		ok("search_resources", map[string]any{
			"resources": []any{
				map[string]any{"id": float64(77), "resourceName": "vector-0"},
				map[string]any{"id": float64(78), "resourceName": "vector-1"},
			},
		}),
		ok("search_resources", map[string]any{
			"resources": []any{map[string]any{"id": float64(99)}},
		}),
	})

	assert.Equal(t, int64(77), ids.ResourceID)
	assert.Equal(t, "vector-0", ids.ResourceName)
}

func TestIdentifiers_IncidentResourceMapping(t *testing.T) {
	ids := Identifiers([]session.ToolResult{
		ok("search_incidents", map[string]any{
			"sample": []any{
				map[string]any{
					"id":               float64(5),
					"title":            "db latency",
					"resource_mapping": []any{float64(10), float64(20), float64(30)},
				},
			},
		}),
	})

	assert.Equal(t, int64(5), ids.IncidentID)
	assert.Equal(t, "db latency", ids.IncidentTitle)
	assert.Equal(t, []int64{10, 20, 30}, ids.LinkedResourceIDs)
}

func TestIdentifiers_ResourceMappingObjects(t *testing.T) {
	ids := Identifiers([]session.ToolResult{
		ok("search_incidents", map[string]any{
			"incidents": []any{
				map[string]any{
					"id": "6",
					"resource_mapping": []any{
						map[string]any{"id": float64(10)},
						map[string]any{"resourceId": "11"},
						"bogus",
						float64(10),
					},
				},
			},
		}),
	})

	assert.Equal(t, int64(6), ids.IncidentID)
	assert.Equal(t, []int64{10, 11}, ids.LinkedResourceIDs)
}

func TestIdentifiers_TicketLinksAccumulate(t *testing.T) {
	ids := Identifiers([]session.ToolResult{
		ok("search_incidents", map[string]any{
			"sample": []any{map[string]any{"id": float64(1), "resource_mapping": []any{float64(10)}}},
		}),
		ok("search_tickets", map[string]any{
			"tickets": []any{map[string]any{"id": "TCK-4", "resourceId": float64(12), "incidentId": float64(3)}},
		}),
		ok("get_resource_tickets", map[string]any{
			"tickets": []any{map[string]any{"id": float64(8), "resourceId": float64(10), "incidentId": float64(4)}},
		}),
	})

	assert.Equal(t, "TCK-4", ids.TicketID)
	assert.Equal(t, []int64{10, 12}, ids.LinkedResourceIDs)
	assert.Equal(t, []int64{3, 4}, ids.LinkedIncidentIDs)
}

func TestIdentifiers_SkipsFailuresAndOddShapes(t *testing.T) {
	ids := Identifiers([]session.ToolResult{
		{ToolName: "search_resources", Success: false, Error: "down"},
		ok("search_resources", "not json"),
		ok("search_resources", map[string]any{"resources": "nope"}),
		ok("search_resources", map[string]any{"resources": []any{map[string]any{"id": "abc"}}}),
		ok("search_incidents", nil),
		ok("search_tickets", []any{42, "x"}),
	})
	assert.True(t, ids.Empty())
}

func TestIdentifiers_JSONTextPayload(t *testing.T) {
	ids := Identifiers([]session.ToolResult{
		ok("search_resources", `{"resources":[{"id":77,"name":"vector-0"}]}`),
	})
	assert.Equal(t, int64(77), ids.ResourceID)
	assert.Equal(t, "vector-0", ids.ResourceName)
}

func TestIdentifiers_Idempotent(t *testing.T) {
	results := []session.ToolResult{
		ok("search_incidents", map[string]any{
			"sample": []any{map[string]any{"id": float64(5), "resource_mapping": []any{float64(10), float64(20)}}},
		}),
	}
	assert.Equal(t, Identifiers(results), Identifiers(results))
}

func TestDecodeAndLabel(t *testing.T) {
	p := Decode("get_resource_by_id", map[string]any{"resource": map[string]any{"id": float64(77), "name": "vector-0"}})
	assert.Equal(t, FamilyResource, p.Family)
	assert.Equal(t, 1, p.Total)
	item, ok := p.First()
	assert.True(t, ok)
	assert.Equal(t, "vector-0", Label(item))

	p = Decode("search_incidents", map[string]any{"total": float64(42), "sample": []any{map[string]any{"id": float64(3)}}})
	assert.Equal(t, 42, p.Total)
	assert.Equal(t, "3", Label(p.Items[0]))

	assert.Equal(t, "boom", Label(map[string]any{"message": "boom", "name": "x"}))
	assert.Equal(t, "t", Label(map[string]any{"title": "t", "message": "boom"}))
}
