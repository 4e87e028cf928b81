// Package locale 为合成请求生成 setup 参数：音色、语速与按文本语言生成的朗读指令。
package locale

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/liuscraft/orion-speak/internal/audio"
	"github.com/liuscraft/orion-speak/internal/tts"
)

// Resolver 实现 audio.SetupResolver
type Resolver struct {
	voice    string
	speed    tts.Speed
	language language.Tag // language.Und 表示按文本自动检测
}

// NewResolver lang 为空或 "auto" 时按文本检测语言
func NewResolver(voice, speed, lang string) (*Resolver, error) {
	r := &Resolver{
		voice:    strings.TrimSpace(voice),
		speed:    tts.ParseSpeed(speed),
		language: language.Und,
	}
	lang = strings.TrimSpace(lang)
	if lang != "" && !strings.EqualFold(lang, "auto") {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("invalid language %q: %w", lang, err)
		}
		r.language = tag
	}
	return r, nil
}

func (r *Resolver) Resolve(req audio.SynthesisRequest) audio.SetupProfile {
	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = r.voice
	}
	speed := req.Speed
	if speed == "" {
		speed = r.speed
	}

	tag := r.language
	if tag == language.Und {
		tag = Detect(req.Text)
	}
	return audio.SetupProfile{
		Voice:       voice,
		Instruction: Instruction(tag),
		Speed:       speed,
	}
}

// scriptLanguages 按优先级排列：假名先于汉字判断，日文文本里通常混有大量汉字
var scriptLanguages = []struct {
	table *unicode.RangeTable
	tag   language.Tag
}{
	{unicode.Hiragana, language.Japanese},
	{unicode.Katakana, language.Japanese},
	{unicode.Hangul, language.Korean},
	{unicode.Han, language.Chinese},
	{unicode.Cyrillic, language.Russian},
	{unicode.Arabic, language.Arabic},
	{unicode.Hebrew, language.Hebrew},
	{unicode.Devanagari, language.Hindi},
	{unicode.Thai, language.Thai},
	{unicode.Greek, language.Greek},
}

// Detect 根据文字所属的书写系统猜测语言，拉丁字母及无法判断时返回英文
func Detect(text string) language.Tag {
	counts := make([]int, len(scriptLanguages))
	letters := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		for i, s := range scriptLanguages {
			if unicode.Is(s.table, r) {
				counts[i]++
				break
			}
		}
	}
	if letters == 0 {
		return language.English
	}

	// 出现假名即视为日文
	if counts[0]+counts[1] > 0 {
		return language.Japanese
	}
	best, bestCount := -1, 0
	for i := 2; i < len(counts); i++ {
		if counts[i] > bestCount {
			best, bestCount = i, counts[i]
		}
	}
	// 非拉丁字符至少占三成才改判，夹杂少量专有名词时仍按英文读
	if best < 0 || bestCount*10 < letters*3 {
		return language.English
	}
	return scriptLanguages[best].tag
}

// Name 语言的英文名称，例如 "Chinese"
func Name(tag language.Tag) string {
	base, _ := tag.Base()
	if name := display.English.Languages().Name(base); name != "" {
		return name
	}
	return base.String()
}

// Instruction 要求服务逐字朗读，不回答、不翻译
func Instruction(tag language.Tag) string {
	return fmt.Sprintf("You are a text-to-speech reader. Read the user's text aloud in %s exactly as written. "+
		"Do not answer or translate it.", Name(tag))
}
