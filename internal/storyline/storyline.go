// Package storyline resolves anchor positions along a protagonist's
// narrative line. Anchors are named a<chapter>_<n> and map onto corpus
// chunk ids through the nodes detail table.
package storyline

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/storyloom/storyloom/internal/core"
)

type storylineData struct {
	Storylines  []line                `json:"storylines"`
	NodesDetail map[string]nodeDetail `json:"nodes_detail"`
}

type line struct {
	Protagonist string   `json:"protagonist"`
	Nodes       []string `json:"nodes"`
}

type nodeDetail struct {
	TextChunkID string   `json:"text_chunk_id"`
	Brief       string   `json:"brief"`
	Type        string   `json:"type"`
	Characters  []string `json:"characters"`
	ImpactScore int      `json:"impact_score"`
}

type Graph struct {
	lines   map[string][]string
	details map[string]nodeDetail
}

func New(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read storylines file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Graph, error) {
	var raw storylineData
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode storylines: %w", err)
	}

	g := &Graph{
		lines:   make(map[string][]string, len(raw.Storylines)),
		details: raw.NodesDetail,
	}
	for _, l := range raw.Storylines {
		g.lines[l.Protagonist] = l.Nodes
	}
	if g.details == nil {
		g.details = make(map[string]nodeDetail)
	}
	return g, nil
}

// ParseAnchorID splits an anchor id like "a1_5" into chapter 1 and the
// zero-based index 4.
func ParseAnchorID(anchorID string) (chapterID, anchorIndex int, err error) {
	rest, ok := strings.CutPrefix(anchorID, "a")
	if !ok {
		return 0, 0, fmt.Errorf("anchor id %q: %w", anchorID, core.ErrNotFound)
	}
	chapterStr, ordinalStr, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, 0, fmt.Errorf("anchor id %q: %w", anchorID, core.ErrNotFound)
	}
	chapterID, err = strconv.Atoi(chapterStr)
	if err != nil {
		return 0, 0, fmt.Errorf("anchor id %q: %w", anchorID, core.ErrNotFound)
	}
	ordinal, err := strconv.Atoi(ordinalStr)
	if err != nil || ordinal < 1 {
		return 0, 0, fmt.Errorf("anchor id %q: %w", anchorID, core.ErrNotFound)
	}
	return chapterID, ordinal - 1, nil
}

func (g *Graph) anchor(anchorID string) (core.Anchor, error) {
	chapterID, _, err := ParseAnchorID(anchorID)
	if err != nil {
		return core.Anchor{}, err
	}
	return core.Anchor{
		NodeID:    anchorID,
		ChapterID: chapterID,
		ChunkID:   g.chunkID(anchorID),
	}, nil
}

// chunkID resolves the corpus chunk backing an anchor. Anchors without a
// detail entry fall back to the positional chunk ch<chapter>_<n>.
func (g *Graph) chunkID(anchorID string) string {
	if d, ok := g.details[anchorID]; ok && d.TextChunkID != "" {
		return d.TextChunkID
	}
	return "ch" + strings.TrimPrefix(anchorID, "a")
}

func (g *Graph) FirstAnchor(protagonist string) (core.Anchor, error) {
	nodes := g.lines[protagonist]
	if len(nodes) == 0 {
		return core.Anchor{}, fmt.Errorf("storyline for %q: %w", protagonist, core.ErrNotFound)
	}
	return g.anchor(nodes[0])
}

// ResolveAnchor resolves a chapter position to an anchor. Resolution is
// purely positional: anchors off the protagonist's storyline still resolve,
// so callers can address any previous anchor in a chapter.
func (g *Graph) ResolveAnchor(_ string, chapterID, anchorIndex int) (core.Anchor, error) {
	return g.anchor(fmt.Sprintf("a%d_%d", chapterID, anchorIndex+1))
}

// NextAnchor returns the storyline node after anchorID, or nil at the end
// of the line.
func (g *Graph) NextAnchor(protagonist, anchorID string) (*core.Anchor, error) {
	nodes := g.lines[protagonist]
	if len(nodes) == 0 {
		return nil, fmt.Errorf("storyline for %q: %w", protagonist, core.ErrNotFound)
	}
	for i, node := range nodes {
		if node != anchorID {
			continue
		}
		if i+1 >= len(nodes) {
			return nil, nil
		}
		a, err := g.anchor(nodes[i+1])
		if err != nil {
			return nil, err
		}
		return &a, nil
	}
	return nil, fmt.Errorf("anchor %q not on storyline for %q: %w", anchorID, protagonist, core.ErrNotFound)
}

func (g *Graph) AnchorInfo(anchorID string) core.AnchorInfo {
	info := core.AnchorInfo{
		AnchorID:    anchorID,
		TextChunkID: g.chunkID(anchorID),
	}
	if d, ok := g.details[anchorID]; ok {
		info.Brief = d.Brief
		info.Type = d.Type
		info.Characters = d.Characters
		info.ImpactScore = d.ImpactScore
	}
	return info
}
