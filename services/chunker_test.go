package services

import (
	"strconv"
	"testing"

	"hn-digest/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func comments(n int) []models.CommentDTO {
	out := make([]models.CommentDTO, n)
	for i := range out {
		out[i] = models.CommentDTO{ID: strconv.Itoa(i + 1), Author: "u", Text: "t"}
	}
	return out
}

func TestChunkSizes(t *testing.T) {
	groups := Chunk(comments(120), 50)
	require.Len(t, groups, 3)
	assert.Len(t, groups[0], 50)
	assert.Len(t, groups[1], 50)
	assert.Len(t, groups[2], 20)
	assert.Equal(t, "51", groups[1][0].ID)
	assert.Equal(t, "120", groups[2][19].ID)
}

func TestChunkEmptyYieldsOneGroup(t *testing.T) {
	groups := Chunk(nil, 50)
	require.Len(t, groups, 1)
	assert.Empty(t, groups[0])
}

func TestChunkExactMultiple(t *testing.T) {
	groups := Chunk(comments(100), 50)
	require.Len(t, groups, 2)
	assert.Len(t, groups[1], 50)
}
