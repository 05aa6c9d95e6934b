package corpus

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/core"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	data := []byte(`[
		{"id": 1, "chunks": [
			{"chunk_id": "ch1_1", "text": "one "},
			{"chunk_id": "ch1_2", "text": "two "},
			{"chunk_id": "ch1_3", "text": "three "},
			{"chunk_id": "ch1_4", "text": "four "},
			{"chunk_id": "ch1_5", "text": "five "}
		]},
		{"id": 2, "chunks": [
			{"chunk_id": "ch2_1", "text": "six "},
			{"chunk_id": "ch2_2", "text": "seven "}
		]}
	]`)
	s, err := Parse(data)
	require.NoError(t, err)
	return s
}

func TestGetChunk(t *testing.T) {
	s := testStore(t)

	c, err := s.GetChunk("ch1_3")
	require.NoError(t, err)
	assert.Equal(t, "three ", c.Text)
	assert.Equal(t, 1, c.ChapterID)
	assert.False(t, c.IsLastInChapter)
	assert.Equal(t, "ch1_4", c.NextChunkID)
}

func TestGetChunk_ChapterBoundary(t *testing.T) {
	s := testStore(t)

	c, err := s.GetChunk("ch1_5")
	require.NoError(t, err)
	assert.True(t, c.IsLastInChapter)
	assert.False(t, c.IsLastOverall)
	assert.Equal(t, "ch2_1", c.NextChunkID)

	last, err := s.GetChunk("ch2_2")
	require.NoError(t, err)
	assert.True(t, last.IsLastInChapter)
	assert.True(t, last.IsLastOverall)
	assert.Empty(t, last.NextChunkID)
}

func TestGetChunk_Unknown(t *testing.T) {
	s := testStore(t)

	_, err := s.GetChunk("ch9_1")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestGetChunksInRange(t *testing.T) {
	s := testStore(t)

	chunks, err := s.GetChunksInRange(1, "ch1_2", "ch1_4")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "ch1_2", chunks[0].ChunkID)
	assert.Equal(t, "ch1_4", chunks[2].ChunkID)
}

func TestGetChunksInRange_SingleChunk(t *testing.T) {
	s := testStore(t)

	chunks, err := s.GetChunksInRange(1, "ch1_1", "ch1_1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}

func TestGetChunksInRange_Errors(t *testing.T) {
	s := testStore(t)

	tests := []struct {
		name      string
		chapter   int
		start     string
		end       string
		wantErr   error
	}{
		{"unknown start", 1, "ch1_99", "ch1_2", core.ErrNotFound},
		{"unknown end", 1, "ch1_1", "ch1_99", core.ErrNotFound},
		{"cross chapter", 1, "ch1_1", "ch2_1", core.ErrInvalidRange},
		{"reversed", 1, "ch1_4", "ch1_2", core.ErrInvalidRange},
		{"wrong chapter", 2, "ch1_1", "ch1_2", core.ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.GetChunksInRange(tt.chapter, tt.start, tt.end)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestFirstChunk(t *testing.T) {
	s := testStore(t)

	c, err := s.FirstChunk(2)
	require.NoError(t, err)
	assert.Equal(t, "ch2_1", c.ChunkID)

	_, err = s.FirstChunk(7)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestChapterChunkCount(t *testing.T) {
	s := testStore(t)

	n, err := s.ChapterChunkCount(1)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestParse_DuplicateChunkID(t *testing.T) {
	_, err := Parse([]byte(fmt.Sprintf(`[{"id":1,"chunks":[%s,%s]}]`,
		`{"chunk_id":"ch1_1","text":"a"}`,
		`{"chunk_id":"ch1_1","text":"b"}`,
	)))
	assert.Error(t, err)
}
