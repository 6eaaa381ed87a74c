package core

import (
	"fmt"
	"sort"
	"strings"
)

const defaultSeverity = "info"

// BuildInstructions renders active rule sets into the instructions block of
// a prompt. Global sets come before repository-scoped ones; within a scope
// the given order is kept. Custom instructions from the repository's own
// config file are appended last.
func BuildInstructions(sets []RuleSet, custom []string) string {
	ordered := make([]RuleSet, 0, len(sets))
	for _, s := range sets {
		if s.IsActive {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return scopeRank(ordered[i].Scope) < scopeRank(ordered[j].Scope)
	})

	var sb strings.Builder
	for _, set := range ordered {
		fmt.Fprintf(&sb, "### %s (%s)\n", set.Name, set.Scope)
		if text := strings.TrimSpace(set.Instructions); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n")
		}
		for _, rule := range set.Rules {
			if !rule.IsActive {
				continue
			}
			sb.WriteString("- ")
			sb.WriteString(rule.Render())
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	var extra []string
	for _, c := range custom {
		if c = strings.TrimSpace(c); c != "" {
			extra = append(extra, c)
		}
	}
	if len(extra) > 0 {
		sb.WriteString("### Repository instructions\n")
		for _, c := range extra {
			sb.WriteString("- ")
			sb.WriteString(c)
			sb.WriteString("\n")
		}
	}

	return strings.TrimSpace(sb.String())
}

// Render formats a rule as "[severity] title: description".
func (r Rule) Render() string {
	severity := r.Severity
	if severity == "" {
		severity = defaultSeverity
	}
	if r.Description == "" {
		return fmt.Sprintf("[%s] %s", severity, r.Title)
	}
	return fmt.Sprintf("[%s] %s: %s", severity, r.Title, r.Description)
}

func scopeRank(s RuleScope) int {
	if s == ScopeGlobal {
		return 0
	}
	return 1
}
