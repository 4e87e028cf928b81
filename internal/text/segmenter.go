package text

import (
	"strings"
	"unicode"
)

// Segmenter 按句子边界切分流式文本，超长句在最近的逗号或空格处截断
type Segmenter struct {
	MaxRunes int
	buffer   []rune
	// pendingDot 数字后的 '.'，等下一个字符确定是小数点还是句号
	pendingDot bool
}

func NewSegmenter(maxRunes int) *Segmenter {
	return &Segmenter{MaxRunes: maxRunes}
}

func (s *Segmenter) Feed(text string) []string {
	if text == "" {
		return nil
	}

	outputs := make([]string, 0)
	emit := func(sentence string) {
		if sentence != "" {
			outputs = append(outputs, sentence)
		}
	}

	for _, r := range text {
		if s.pendingDot {
			s.pendingDot = false
			if !unicode.IsDigit(r) {
				emit(s.flushBuffer())
			}
		}

		s.buffer = append(s.buffer, r)
		if r == '.' && len(s.buffer) >= 2 && unicode.IsDigit(s.buffer[len(s.buffer)-2]) {
			s.pendingDot = true
			continue
		}
		if isSentenceBoundary(r) {
			emit(s.flushBuffer())
			continue
		}
		if s.MaxRunes > 0 && len(s.buffer) >= s.MaxRunes {
			emit(s.splitLong())
		}
	}
	return outputs
}

func (s *Segmenter) Flush() string {
	s.pendingDot = false
	return s.flushBuffer()
}

func (s *Segmenter) flushBuffer() string {
	if len(s.buffer) == 0 {
		return ""
	}
	sentence := strings.TrimSpace(string(s.buffer))
	s.buffer = s.buffer[:0]
	return sentence
}

// splitLong 在后半段寻找软断点，找不到时硬切
func (s *Segmenter) splitLong() string {
	cut := len(s.buffer)
	for i := len(s.buffer) - 1; i >= len(s.buffer)/2; i-- {
		if isSoftBreak(s.buffer[i]) {
			cut = i + 1
			break
		}
	}
	sentence := strings.TrimSpace(string(s.buffer[:cut]))
	rest := copy(s.buffer, s.buffer[cut:])
	s.buffer = s.buffer[:rest]
	return sentence
}

func isSentenceBoundary(r rune) bool {
	switch r {
	case '\n', '.', '!', '?', ';', '。', '！', '？', '；', '…':
		return true
	default:
		return false
	}
}

func isSoftBreak(r rune) bool {
	switch r {
	case ',', '，', '、', ':', '：', ' ':
		return true
	default:
		return false
	}
}

// Prepare 过滤 Markdown 后切分为可朗读的句子，丢弃没有字母或数字的片段
func Prepare(input string, filter MarkdownFilter, maxRunes int) []string {
	if filter != nil {
		input = filter.Filter(input)
	}
	seg := NewSegmenter(maxRunes)
	parts := seg.Feed(input)
	if last := seg.Flush(); last != "" {
		parts = append(parts, last)
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if speakable(p) {
			out = append(out, p)
		}
	}
	return out
}

func speakable(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
