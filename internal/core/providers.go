package core

import "context"

// PromptBundle is the ordered material handed to the generation provider:
// instruction block, compacted memory, serialized state, anchor context,
// and the player's choice.
type PromptBundle struct {
	Instructions string
	Memory       string
	State        string
	Context      string
	PlayerChoice string
	AnchorInfo   *AnchorInfo
}

// Generation is the provider's structured answer for one turn.
type Generation struct {
	Script []ScriptUnit
	Delta  StateDelta
	Usage  Usage
}

type ScriptGenerator interface {
	Generate(ctx context.Context, bundle PromptBundle, temperature float64, maxTokens int) (*Generation, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Navigator resolves storyline anchors for a protagonist.
type Navigator interface {
	FirstAnchor(protagonist string) (Anchor, error)
	ResolveAnchor(protagonist string, chapterID, anchorIndex int) (Anchor, error)
	NextAnchor(protagonist, anchorID string) (*Anchor, error)
	AnchorInfo(anchorID string) AnchorInfo
}
