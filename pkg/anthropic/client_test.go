package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageResponseText(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: `{"summary": "part one`},
			{Type: "tool_use", Text: "ignored"},
			{Type: "text", Text: `"}`},
		},
	}
	assert.Equal(t, `{"summary": "part one"}`, resp.Text())

	empty := &MessageResponse{}
	assert.Empty(t, empty.Text())
}

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("You review tenders.")
	assert.Len(t, blocks, 1)
	assert.Equal(t, "You review tenders.", blocks[0].Text)
	assert.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}
