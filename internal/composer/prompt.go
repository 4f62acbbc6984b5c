// Package composer builds the provider-agnostic text prompt sent to the
// generation gateway. Output is deterministic plain text; anything
// provider-specific belongs in the provider adapters.
package composer

import (
	"fmt"
	"strings"

	"github.com/deskhand-io/deskhand/internal/matcher"
)

const defaultMaxMatches = 3

const solutionOpenTag = "<Suggested Solution>"
const solutionCloseTag = "</Suggested Solution>"

// Compose builds the prompt for a query ticket and its similar resolved
// tickets. At most maxMatches entries are included, preserving their order
// (highest similarity first). With no matches the prompt asks the generator
// to state that no similar precedent exists and to suggest a general next
// step, so the pipeline never fails merely because nothing matched.
func Compose(queryText string, matches []matcher.Match, maxMatches int) string {
	if maxMatches <= 0 {
		maxMatches = defaultMaxMatches
	}
	if len(matches) > maxMatches {
		matches = matches[:maxMatches]
	}

	var sb strings.Builder
	sb.WriteString("Here is a new ticket:\n")
	sb.WriteString("Description: " + queryText + "\n\n")

	if len(matches) == 0 {
		sb.WriteString("No similar resolved tickets were found in the knowledge base.\n\n")
		sb.WriteString("State clearly that no similar precedent exists, then suggest a ")
		sb.WriteString("sensible general next step for the agent (for example gathering ")
		sb.WriteString("diagnostic details or escalating to the responsible team).\n")
	} else {
		sb.WriteString("The following are similar resolved tickets and their resolutions:\n\n")
		for i, m := range matches {
			fmt.Fprintf(&sb, "<Similar Ticket %d>\n", i+1)
			fmt.Fprintf(&sb, "Ticket ID: %s\n", m.TicketID)
			fmt.Fprintf(&sb, "Description: %s\n", m.Description)
			fmt.Fprintf(&sb, "Resolution: %s\n", m.Resolution)
			fmt.Fprintf(&sb, "</Similar Ticket %d>\n\n", i+1)
		}
		sb.WriteString("Think step by step. Evaluate the similar tickets and the new ticket. ")
		sb.WriteString("Reason whether the similar tickets are relevant and then, based on ")
		sb.WriteString("these similar tickets and their resolutions, suggest a potential ")
		sb.WriteString("solution or next steps for the new ticket. When referring to the ")
		sb.WriteString("similar tickets, use the Ticket ID.\n")
	}

	sb.WriteString("\nYour response should be concise and in the following format:\n")
	sb.WriteString(solutionOpenTag + "\n")
	sb.WriteString("... your response ...\n")
	sb.WriteString(solutionCloseTag + "\n")

	return sb.String()
}

// ExtractSolution pulls the text between the suggested-solution tags out of
// a generated answer. Models do not always honour the requested format, so
// when the tags are missing the whole trimmed answer is returned instead of
// an error.
func ExtractSolution(answer string) string {
	start := strings.Index(answer, solutionOpenTag)
	if start == -1 {
		return strings.TrimSpace(answer)
	}
	rest := answer[start+len(solutionOpenTag):]
	if end := strings.Index(rest, solutionCloseTag); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
