package followup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleuth/internal/session"
)

func newState(t *testing.T, query string, c session.Classification) session.State {
	t.Helper()
	s, err := session.New(session.Request{Query: query})
	require.NoError(t, err)
	return s.WithClassification(c)
}

func names(plan []session.ToolCall) []string {
	out := make([]string, len(plan))
	for i, c := range plan {
		out[i] = c.Name
	}
	return out
}

func TestSignals(t *testing.T) {
	tests := []struct {
		name  string
		query string
		c     session.Classification
		want  []string
	}{
		{"none", "how many incidents today", session.Classification{}, nil},
		{"flag", "resource 9", session.Classification{Comprehensive: true}, []string{SignalFlag}},
		{"keyword", "Tell me EVERYTHING about vector-0", session.Classification{}, []string{SignalKeyword}},
		{"single scope detail", "vector-0", session.Classification{Scope: "single", Intent: "get details of resource"}, []string{SignalSingleScope}},
		{"multi scope detail ignored", "vector-0", session.Classification{Scope: "multiple", Intent: "get details"}, nil},
		{"cross entity", "incidents and their resources", session.Classification{MultiEntity: true}, []string{SignalCrossEntity}},
		{"cross entity without flag", "incidents and their resources", session.Classification{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Signals(tt.query, tt.c))
		})
	}
}

func TestDecide(t *testing.T) {
	c := session.Classification{Comprehensive: true}

	t.Run("no signal", func(t *testing.T) {
		s := newState(t, "status of vector-0", session.Classification{})
		s = s.WithIdentifiers(session.Identifiers{ResourceID: 77})
		assert.False(t, Decide(s).Expand)
	})

	t.Run("no identifiers", func(t *testing.T) {
		s := newState(t, "everything about vector-0", c)
		d := Decide(s)
		assert.False(t, d.Expand)
		assert.Equal(t, "no identifiers extracted", d.Reason)
	})

	t.Run("expands", func(t *testing.T) {
		s := newState(t, "everything about vector-0", c)
		s = s.AppendResults(session.ToolResult{ToolName: "search_resources", Success: true})
		s = s.WithIdentifiers(session.Identifiers{ResourceID: 77})
		d := Decide(s)
		assert.True(t, d.Expand)
		assert.Contains(t, d.Signals, SignalFlag)
		assert.Contains(t, d.Signals, SignalKeyword)
	})

	t.Run("guard tool already executed", func(t *testing.T) {
		for _, guard := range GuardTools {
			s := newState(t, "everything about vector-0", c)
			s = s.AppendResults(session.ToolResult{ToolName: guard, Success: false})
			s = s.WithIdentifiers(session.Identifiers{ResourceID: 77})
			assert.False(t, Decide(s).Expand, guard)
		}
	})
}

func TestBuildPlan_Resource(t *testing.T) {
	plan := BuildPlan(session.Identifiers{ResourceID: 77})
	require.Len(t, plan, 6)
	assert.Equal(t, ResourceDetailTools, names(plan))
	for _, c := range plan {
		assert.Equal(t, int64(77), c.Params["resource_id"])
	}
}

func TestBuildPlan_Incident(t *testing.T) {
	plan := BuildPlan(session.Identifiers{IncidentID: 5})
	assert.Equal(t, IncidentDetailTools, names(plan))
}

func TestBuildPlan_CapsLinked(t *testing.T) {
	plan := BuildPlan(session.Identifiers{
		LinkedResourceIDs: []int64{1, 2, 3, 4, 5, 6, 7},
		LinkedIncidentIDs: []int64{8, 9},
	})

	var resources, incidents int
	for _, c := range plan {
		switch c.Name {
		case "get_resource_by_id":
			resources++
		case "get_incident_by_id":
			incidents++
		}
	}
	assert.Equal(t, 5, resources)
	assert.Equal(t, 2, incidents)
	assert.Equal(t, int64(1), plan[0].Params["resource_id"])
	assert.Equal(t, int64(5), plan[4].Params["resource_id"])
}

func TestBuildPlan_LinkedExcludesPrimary(t *testing.T) {
	plan := BuildPlan(session.Identifiers{ResourceID: 10, LinkedResourceIDs: []int64{10, 20}})
	require.Len(t, plan, 7)
	assert.Equal(t, int64(20), plan[6].Params["resource_id"])
}

func TestBuildPlan_Empty(t *testing.T) {
	assert.Empty(t, BuildPlan(session.Identifiers{ResourceName: "vector-0"}))
}
