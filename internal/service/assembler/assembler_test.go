package assembler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/core"
	"github.com/storyloom/storyloom/internal/corpus"
)

func testAssembler(t *testing.T) *Assembler {
	t.Helper()
	data := []byte(`[
		{"id": 1, "chunks": [
			{"chunk_id": "ch1_1", "text": "one "},
			{"chunk_id": "ch1_2", "text": "two "},
			{"chunk_id": "ch1_3", "text": "three "},
			{"chunk_id": "ch1_4", "text": "four "},
			{"chunk_id": "ch1_5", "text": "five "},
			{"chunk_id": "ch1_6", "text": "six "},
			{"chunk_id": "ch1_7", "text": "seven "},
			{"chunk_id": "ch1_8", "text": "eight "},
			{"chunk_id": "ch1_9", "text": "nine "},
			{"chunk_id": "ch1_10", "text": "ten "}
		]},
		{"id": 2, "chunks": [
			{"chunk_id": "ch2_1", "text": "eleven "}
		]}
	]`)
	store, err := corpus.Parse(data)
	require.NoError(t, err)
	return New(store)
}

func anchor(nodeID string, chapterID int, chunkID string) core.Anchor {
	return core.Anchor{NodeID: nodeID, ChapterID: chapterID, ChunkID: chunkID}
}

func TestBuildContext_FirstAnchorIncludesChapterStart(t *testing.T) {
	a := testAssembler(t)

	ctx, stats, err := a.BuildContext(anchor("a1_5", 1, "ch1_5"), nil, false, false)
	require.NoError(t, err)
	assert.Equal(t, "one two three four five ", ctx)
	assert.Equal(t, 5, stats.ChunksIncluded)
	assert.Equal(t, "ch1_1", stats.StartChunkID)
	assert.Equal(t, "ch1_5", stats.EndChunkID)
	assert.False(t, stats.HasTail)
}

func TestBuildContext_PreviousAnchorExclusive(t *testing.T) {
	a := testAssembler(t)

	prev := anchor("a1_5", 1, "ch1_5")
	ctx, stats, err := a.BuildContext(anchor("a1_10", 1, "ch1_10"), &prev, false, false)
	require.NoError(t, err)
	assert.Equal(t, "six seven eight nine ten ", ctx)
	assert.Equal(t, 5, stats.ChunksIncluded)
	assert.Equal(t, "ch1_6", stats.StartChunkID)
	assert.Equal(t, "ch1_10", stats.EndChunkID)
}

func TestBuildContext_Idempotent(t *testing.T) {
	a := testAssembler(t)

	prev := anchor("a1_2", 1, "ch1_2")
	first, stats1, err := a.BuildContext(anchor("a1_7", 1, "ch1_7"), &prev, false, false)
	require.NoError(t, err)
	second, stats2, err := a.BuildContext(anchor("a1_7", 1, "ch1_7"), &prev, false, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, stats1, stats2)
}

func TestBuildContext_Tail(t *testing.T) {
	a := testAssembler(t)

	prev := anchor("a1_5", 1, "ch1_5")
	ctx, stats, err := a.BuildContext(anchor("a1_8", 1, "ch1_8"), &prev, true, true)
	require.NoError(t, err)
	assert.Equal(t, "six seven eight nine ten ", ctx)
	assert.True(t, stats.HasTail)
	assert.Equal(t, 5, stats.ChunksIncluded)
	assert.Equal(t, "ch1_10", stats.EndChunkID)
}

func TestBuildContext_TailIgnoredUnlessLastAnchor(t *testing.T) {
	a := testAssembler(t)

	prev := anchor("a1_5", 1, "ch1_5")
	ctx, stats, err := a.BuildContext(anchor("a1_8", 1, "ch1_8"), &prev, true, false)
	require.NoError(t, err)
	assert.Equal(t, "six seven eight ", ctx)
	assert.False(t, stats.HasTail)
}

func TestBuildContext_TailAtChapterEnd(t *testing.T) {
	a := testAssembler(t)

	// Anchor already sits on the last chunk: nothing to append
	ctx, stats, err := a.BuildContext(anchor("a1_10", 1, "ch1_10"), nil, true, true)
	require.NoError(t, err)
	assert.Equal(t, "one two three four five six seven eight nine ten ", ctx)
	assert.False(t, stats.HasTail)
	assert.Equal(t, 10, stats.ChunksIncluded)
}

func TestBuildContext_SameChunkForBothAnchors(t *testing.T) {
	a := testAssembler(t)

	prev := anchor("a1_3", 1, "ch1_3")
	ctx, stats, err := a.BuildContext(anchor("a1_3b", 1, "ch1_3"), &prev, false, false)
	require.NoError(t, err)
	assert.Equal(t, "three ", ctx)
	assert.Equal(t, 1, stats.ChunksIncluded)
}

func TestBuildContext_CrossChapterPrevious(t *testing.T) {
	a := testAssembler(t)

	prev := anchor("a1_10", 1, "ch1_10")
	_, _, err := a.BuildContext(anchor("a2_1", 2, "ch2_1"), &prev, false, false)
	assert.True(t, errors.Is(err, core.ErrInvalidRange))
}

func TestBuildContext_PreviousAfterCurrent(t *testing.T) {
	a := testAssembler(t)

	prev := anchor("a1_8", 1, "ch1_8")
	_, _, err := a.BuildContext(anchor("a1_5", 1, "ch1_5"), &prev, false, false)
	assert.True(t, errors.Is(err, core.ErrInvalidRange))
}

func TestBuildContext_UnknownChunk(t *testing.T) {
	a := testAssembler(t)

	_, _, err := a.BuildContext(anchor("a1_99", 1, "ch1_99"), nil, false, false)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}
