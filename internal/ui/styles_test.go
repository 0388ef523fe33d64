package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/steveyegge/prdledger/internal/types"
)

func TestRenderStatusKeepsText(t *testing.T) {
	for _, s := range []types.Status{types.StatusPending, types.StatusInProgress, types.StatusDone, types.StatusArchived} {
		assert.Contains(t, RenderStatus(s), string(s))
	}
	assert.Contains(t, RenderTaskStatus(types.TaskStatusReview), "review")
	assert.Contains(t, RenderPriority(types.PriorityHigh), "high")
}

func TestRenderProgress(t *testing.T) {
	assert.True(t, strings.HasSuffix(RenderProgress(50, 10), " 50%"))
	assert.Equal(t, 5, strings.Count(RenderProgress(50, 10), "█"))
	assert.Equal(t, 10, strings.Count(RenderProgress(250, 10), "█"))
	assert.Equal(t, 10, strings.Count(RenderProgress(-5, 10), "░"))
	assert.Equal(t, 10, strings.Count(RenderProgress(0, 0), "░"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Equal(t, "héllo w...", Truncate("héllo wörld!", 10))
}

func TestTitleWidthFloor(t *testing.T) {
	assert.Equal(t, 20, TitleWidth(100000))
	assert.GreaterOrEqual(t, TitleWidth(0), 20)
}

func TestRenderMarkdownPlainWhenRedirected(t *testing.T) {
	md := "# Checkout\n\n- pay\n"
	assert.Equal(t, md, RenderMarkdown(md))
}
