package orchestrator

import (
	"fmt"
	"strings"
)

// deriveSubGoals maps query keywords to a research framing, recorded as
// working-memory sub-goals before planning starts.
func deriveSubGoals(query string) []string {
	lower := strings.ToLower(query)
	contains := func(terms ...string) bool {
		for _, t := range terms {
			if strings.Contains(lower, t) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("compare", "difference", "vs"):
		return []string{
			fmt.Sprintf("Compare the subjects of: %s", query),
			"Identify the dimensions on which they differ",
			"Weigh trade-offs between them",
		}
	case contains("how", "explain", "what is"):
		return []string{
			fmt.Sprintf("Explain: %s", query),
			"Identify the underlying mechanism",
			"Find concrete examples",
		}
	case contains("when", "date", "year"):
		return []string{
			fmt.Sprintf("Establish the timeline for: %s", query),
			"Pin down exact dates from reliable sources",
		}
	case contains("why", "reason"):
		return []string{
			fmt.Sprintf("Find the causes behind: %s", query),
			"Distinguish direct causes from contributing factors",
		}
	case contains("where", "location"):
		return []string{
			fmt.Sprintf("Locate: %s", query),
			"Verify the location against authoritative sources",
		}
	default:
		return []string{
			fmt.Sprintf("Build a comprehensive answer to: %s", query),
			"Gather evidence from multiple independent sources",
		}
	}
}
