package memory

import (
	"fmt"
	"strings"

	"github.com/storyloom/storyloom/internal/core"
)

// eventText renders one turn event as a single plain-text line. User events
// carry the player's choice, assistant events the generated script.
func eventText(e core.TurnEvent) string {
	switch e.Role {
	case core.RoleUser:
		if e.Choice == "" {
			return ""
		}
		return fmt.Sprintf("Player: %s", e.Choice)
	case core.RoleAssistant:
		var parts []string
		for _, u := range e.Script {
			switch u.Type {
			case core.UnitDialogue:
				parts = append(parts, fmt.Sprintf("%s: %s", u.Speaker, u.Content))
			case core.UnitInteraction:
				if u.Content != "" {
					parts = append(parts, u.Content)
				}
			default:
				parts = append(parts, u.Content)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func renderEvents(events []core.TurnEvent) string {
	lines := make([]string, 0, len(events))
	for _, e := range events {
		text := eventText(e)
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[turn %d] %s", e.Turn, text))
	}
	return strings.Join(lines, "\n")
}

// compactionInput covers only the evicted batch. The prior summary stays
// out of the prompt: facts the model restated from it would get appended
// again on every cycle.
func compactionInput(batch []core.TurnEvent) string {
	var b strings.Builder
	b.WriteString("Condense the following story events into a short factual summary. ")
	b.WriteString("Keep character names, decisions made, and unresolved threads. ")
	b.WriteString("Write in past tense, no commentary.\n\n")
	b.WriteString("Events:\n")
	b.WriteString(renderEvents(batch))
	return b.String()
}

func recompressionInput(merged string, budget int) string {
	return fmt.Sprintf(
		"Rewrite this story summary so it fits within roughly %d characters. "+
			"Drop redundancy but keep every named character, decision, and open thread.\n\n%s",
		budget, merged)
}

// Render produces the memory block handed to the turn prompt: the compacted
// summary followed by the recent window verbatim.
func Render(mem core.MemorySnapshot) string {
	var b strings.Builder
	if mem.Summary != "" {
		b.WriteString("Story summary:\n")
		b.WriteString(mem.Summary)
	}
	if len(mem.Recent) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Recent events:\n")
		b.WriteString(renderEvents(mem.Recent))
	}
	return b.String()
}
