package text

import (
	"regexp"
	"strings"
)

// MarkdownFilter Markdown过滤器接口
type MarkdownFilter interface {
	Filter(text string) string
}

// MarkdownFilterConfig 配置
type MarkdownFilterConfig struct {
	// 是否移除加粗/斜体/删除线标记
	RemoveBold bool
	// 是否移除代码块（否则只去掉 ``` 围栏，保留代码）
	RemoveCodeBlock bool
	// 是否把链接替换为链接文字，并丢弃裸 URL
	RemoveLink bool
	// 是否移除标题标记
	RemoveHeading bool
}

// DefaultMarkdownFilterConfig 默认配置
func DefaultMarkdownFilterConfig() *MarkdownFilterConfig {
	return &MarkdownFilterConfig{
		RemoveBold:      true,
		RemoveCodeBlock: true,
		RemoveLink:      true,
		RemoveHeading:   true,
	}
}

var (
	reCodeBlock     = regexp.MustCompile("```[^\\n]*\\n?([\\s\\S]*?)```")
	reInlineCode    = regexp.MustCompile("`([^`\n]+)`")
	reBoldStar      = regexp.MustCompile(`\*\*([^\n*]+)\*\*`)
	reBoldUnder     = regexp.MustCompile(`__([^\n_]+)__`)
	reItalicStar    = regexp.MustCompile(`\*([^\n*]+)\*`)
	reItalicUnder   = regexp.MustCompile(`(^|[^\w])_([^\n_]+)_([^\w]|$)`)
	reStrike        = regexp.MustCompile(`~~([^\n~]+)~~`)
	reHeadingAtx    = regexp.MustCompile(`(?m)^#{1,6}\s+(.+?)\s*#*\s*$`)
	reHeadingSetext = regexp.MustCompile(`(?m)^\s*(=+|-+)\s*$\n?`)
	reImage         = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	reLink          = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	reBareURL       = regexp.MustCompile(`https?://[^\s)>\]]+`)
	reHTML          = regexp.MustCompile(`<[^>\n]+>`)
	reBlockquote    = regexp.MustCompile(`(?m)^\s*>+\s?`)
	reListLeader    = regexp.MustCompile(`(?m)^\s*(?:[*\-+]|\d+[.)])\s+`)
	reTableRule     = regexp.MustCompile(`(?m)^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?\s*$\n?`)
	reFootnote      = regexp.MustCompile(`\[\^[^\]]+\]`)
	reBlankLines    = regexp.MustCompile(`\n{3,}`)
	reSpaces        = regexp.MustCompile(`[ \t]{2,}`)
)

type regexMarkdownFilter struct {
	cfg MarkdownFilterConfig
}

// NewMarkdownFilter cfg 为 nil 时使用默认配置
func NewMarkdownFilter(cfg *MarkdownFilterConfig) MarkdownFilter {
	if cfg == nil {
		cfg = DefaultMarkdownFilterConfig()
	}
	return &regexMarkdownFilter{cfg: *cfg}
}

// Filter 把 Markdown 转成适合朗读的纯文本
// 列表项、标题、表格行各占一行，交给 Segmenter 时自然成为句子边界
func (f *regexMarkdownFilter) Filter(text string) string {
	out := strings.ReplaceAll(text, "\r\n", "\n")

	if f.cfg.RemoveCodeBlock {
		out = reCodeBlock.ReplaceAllString(out, "\n")
	} else {
		out = reCodeBlock.ReplaceAllString(out, "$1")
	}

	if f.cfg.RemoveHeading {
		out = reHeadingAtx.ReplaceAllString(out, "$1")
		out = reTableRule.ReplaceAllString(out, "")
		out = reHeadingSetext.ReplaceAllString(out, "")
	}

	if f.cfg.RemoveBold {
		out = reBoldStar.ReplaceAllString(out, "$1")
		out = reBoldUnder.ReplaceAllString(out, "$1")
		out = reStrike.ReplaceAllString(out, "$1")
		out = reItalicStar.ReplaceAllString(out, "$1")
		out = reItalicUnder.ReplaceAllString(out, "$1$2$3")
	}
	out = reInlineCode.ReplaceAllString(out, "$1")

	out = reImage.ReplaceAllString(out, "$1")
	if f.cfg.RemoveLink {
		out = reLink.ReplaceAllString(out, "$1")
		out = reBareURL.ReplaceAllString(out, "")
	}

	out = reHTML.ReplaceAllString(out, "")
	out = reFootnote.ReplaceAllString(out, "")
	out = reBlockquote.ReplaceAllString(out, "")
	out = reListLeader.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "|", " ")

	out = reSpaces.ReplaceAllString(out, " ")
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	out = strings.Join(lines, "\n")
	out = reBlankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
