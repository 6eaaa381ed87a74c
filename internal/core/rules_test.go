package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildInstructions(t *testing.T) {
	repoID := int64(3)
	sets := []RuleSet{
		{
			Name: "backend", Scope: ScopeRepo, RepositoryID: &repoID, IsActive: true,
			Instructions: "Focus on the storage layer.",
			Rules: []Rule{
				{Title: "No raw SQL in handlers", Description: "use the store", Severity: "warning", IsActive: true},
				{Title: "disabled", IsActive: false},
			},
		},
		{
			Name: "company", Scope: ScopeGlobal, IsActive: true,
			Instructions: "Be concise.",
			Rules:        []Rule{{Title: "Flag secrets", IsActive: true}},
		},
		{Name: "inactive", Scope: ScopeGlobal, IsActive: false, Instructions: "never shown"},
	}

	got := BuildInstructions(sets, []string{"Prefer table tests.", "  "})

	want := "### company (global)\n" +
		"Be concise.\n" +
		"- [info] Flag secrets\n" +
		"\n" +
		"### backend (repo)\n" +
		"Focus on the storage layer.\n" +
		"- [warning] No raw SQL in handlers: use the store\n" +
		"\n" +
		"### Repository instructions\n" +
		"- Prefer table tests."
	assert.Equal(t, want, got)
}

func TestBuildInstructions_Empty(t *testing.T) {
	assert.Empty(t, BuildInstructions(nil, nil))
}
