package notifier

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMarkdown_SectionsAndFooter(t *testing.T) {
	msg := StructuredMessage{
		Icon:  "🛑",
		Title: "安全否决生效",
		Sections: []MessageSection{
			{Title: "否决", Lines: []string{"机构: health-monitor", "", "原因: health critically low (35)"}},
			{Title: "空段落", Lines: []string{"   "}},
		},
		Footer:    "详情见审计日志",
		Timestamp: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}

	out := msg.RenderMarkdown()
	assert.True(t, strings.HasPrefix(out, "🛑 安全否决生效"))
	assert.Contains(t, out, "- 机构: health-monitor")
	assert.Contains(t, out, "详情见审计日志")
	assert.Contains(t, out, "时间：2026-08-25 10:00:00 UTC")
	// 空白行被清洗掉，空段落不产生标题。
	assert.NotContains(t, out, "空段落\n\n")
}

func TestRenderMarkdown_EscapesCodeFence(t *testing.T) {
	msg := StructuredMessage{
		Sections: []MessageSection{{Lines: []string{"detail ``` injection"}}},
	}
	assert.NotContains(t, msg.RenderMarkdown(), "detail ``` injection")
	assert.Contains(t, msg.RenderMarkdown(), "detail ''' injection")
}

func TestRenderMarkdown_TruncatesOversizedBody(t *testing.T) {
	msg := StructuredMessage{
		Title:    "长消息",
		Sections: []MessageSection{{Lines: []string{strings.Repeat("x", 5000)}}},
	}
	out := msg.RenderMarkdown()
	assert.LessOrEqual(t, len(out), renderLimit+3)
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestRenderMarkdown_TruncationRespectsRuneBoundary(t *testing.T) {
	msg := StructuredMessage{
		Sections: []MessageSection{{Lines: []string{strings.Repeat("风险", 2000)}}},
	}
	out := strings.TrimSuffix(msg.RenderMarkdown(), "...")
	// 截断点不得落在多字节字符中间。
	assert.True(t, utf8.ValidString(out))
}

func TestAddSection_DropsEmptyContent(t *testing.T) {
	var msg StructuredMessage
	msg.AddSection("空段落", "   ", "")
	assert.Empty(t, msg.Sections)

	msg.AddSection("否决", "机构: risk-map", "  ")
	require.Len(t, msg.Sections, 1)
	assert.Equal(t, []string{"机构: risk-map"}, msg.Sections[0].Lines)
}
