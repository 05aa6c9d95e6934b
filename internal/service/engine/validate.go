package engine

import (
	"fmt"

	"github.com/storyloom/storyloom/internal/core"
)

// validateScript enforces the turn shape: a non-empty script whose units
// all carry content, with at most one interaction unit, and only in the
// trailing position. A script either ends waiting for player input or is
// fully narrative.
func validateScript(units []core.ScriptUnit) error {
	if len(units) == 0 {
		return fmt.Errorf("%w: empty script", core.ErrSchemaViolation)
	}
	for i, u := range units {
		switch u.Type {
		case core.UnitNarration, core.UnitDialogue:
			if u.Content == "" {
				return fmt.Errorf("%w: unit %d has no content", core.ErrSchemaViolation, i)
			}
		case core.UnitInteraction:
			if i != len(units)-1 {
				return fmt.Errorf("%w: interaction unit %d is not trailing", core.ErrSchemaViolation, i)
			}
		default:
			return fmt.Errorf("%w: unit %d has unknown type %q", core.ErrSchemaViolation, i, u.Type)
		}
	}
	return nil
}

// fallbackScript is the degraded answer when the provider cannot produce a
// valid script even after a corrective retry. The caller always gets a
// well-formed turn.
func fallbackScript() []core.ScriptUnit {
	return []core.ScriptUnit{
		{
			Type:    core.UnitNarration,
			Content: "The moment stretches on. The story waits for you to act.",
		},
		{
			Type:         core.UnitInteraction,
			Content:      "What do you do?",
			ChoiceID:     "fallback_continue",
			DefaultReply: "Continue",
		},
	}
}
