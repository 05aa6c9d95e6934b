package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/storyloom/storyloom/internal/core"
	"github.com/storyloom/storyloom/internal/service/memory"
)

const instructions = `You are the narrator of an interactive novel. Continue the story from the source narrative below, staying close to its tone and facts. The current deviation level controls how far you may depart from the source text: near zero means near-verbatim retelling, higher means freer adaptation.

Answer by calling emit_script with:
- "script": an ordered list of units, each {"type": "narration"|"dialogue"|"interaction", "content": ...}. Dialogue units name a "speaker". At most one interaction unit, and only as the final unit, with a "choice_id" and a "default_reply".
- "state_delta": {"deviation_delta", "affinity_changes", "flags_updates", "variables_updates"} reflecting how the player's choice moved the story.`

const correctiveNote = `

Your previous answer did not match the required shape. Call emit_script with a non-empty "script" array; every narration and dialogue unit needs "content", and at most one interaction unit is allowed, only as the last unit.`

// buildBundle assembles the generation request in fixed order: memory,
// relevant past, state, anchor context, player choice.
func buildBundle(snap *core.Snapshot, info core.AnchorInfo, contextText, playerChoice string, recalled []core.IndexedTurn) core.PromptBundle {
	mem := memory.Render(snap.Memory())
	if len(recalled) > 0 {
		var b strings.Builder
		b.WriteString(mem)
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Possibly relevant earlier moments:\n")
		for _, hit := range recalled {
			fmt.Fprintf(&b, "[turn %d] %s\n", hit.Turn, hit.Content)
		}
		mem = strings.TrimRight(b.String(), "\n")
	}

	return core.PromptBundle{
		Instructions: instructions,
		Memory:       mem,
		State:        serializeState(snap.Globals),
		Context:      contextText,
		PlayerChoice: playerChoice,
		AnchorInfo:   &info,
	}
}

func corrective(bundle core.PromptBundle) core.PromptBundle {
	bundle.Instructions += correctiveNote
	return bundle
}

func serializeState(g core.GlobalState) string {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Sprintf(`{"deviation":%.3f}`, g.Deviation)
	}
	return string(data)
}

// tokenCount estimates prompt size with the cl100k tokenizer; a missing
// encoder degrades to the usual chars/4 heuristic.
func tokenCount(enc *tiktoken.Tiktoken, bundle core.PromptBundle) int {
	text := strings.Join([]string{
		bundle.Instructions, bundle.Memory, bundle.State, bundle.Context, bundle.PlayerChoice,
	}, "\n")
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
