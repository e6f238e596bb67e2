package notifier

import (
	"strings"
	"time"
)

// 中文说明：
// 推送正文统一由 StructuredMessage 渲染：标题行、若干等宽段落、
// 可选脚注与时间戳。段落整体放进代码块以保住对齐，正文里出现的
// fence 会被替换掉，超长正文按字符边界截断。

// renderLimit 略低于 Telegram 的 4096 字节上限，给截断标记留余量。
const renderLimit = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 描述一条待渲染的推送。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// AddSection 追加一个段落。空白行被丢弃，整段为空时不追加。
func (m *StructuredMessage) AddSection(title string, lines ...string) {
	kept := cleanLines(lines)
	if len(kept) == 0 {
		return
	}
	m.Sections = append(m.Sections, MessageSection{Title: strings.TrimSpace(title), Lines: kept})
}

// RenderMarkdown 生成最终 Markdown 文本。
func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(strings.TrimSpace(m.Icon + " " + m.Title)); header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}
	m.renderSections(&b)
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(escapeFence(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	return truncate(strings.TrimSpace(b.String()))
}

func (m StructuredMessage) renderSections(b *strings.Builder) {
	type block struct {
		title string
		lines []string
	}
	var blocks []block
	for _, sec := range m.Sections {
		if lines := cleanLines(sec.Lines); len(lines) > 0 {
			blocks = append(blocks, block{title: strings.TrimSpace(sec.Title), lines: lines})
		}
	}
	if len(blocks) == 0 {
		return
	}

	b.WriteString("```\n")
	for i, blk := range blocks {
		if blk.title != "" {
			b.WriteString(escapeFence(blk.title))
			b.WriteString("\n")
		}
		for _, line := range blk.lines {
			b.WriteString("- ")
			b.WriteString(escapeFence(line))
			b.WriteString("\n")
		}
		if i != len(blocks)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("```\n\n")
}

func cleanLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// escapeFence 防止正文内容提前闭合代码块。
func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

// truncate 按字符边界截到上限以内，绝不切碎多字节字符。
func truncate(s string) string {
	if len(s) <= renderLimit {
		return s
	}
	cut := renderLimit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
