package locale

import (
	"strings"
	"testing"

	"golang.org/x/text/language"

	"github.com/liuscraft/orion-speak/internal/audio"
	"github.com/liuscraft/orion-speak/internal/tts"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		text string
		want language.Tag
	}{
		{"Hello, world.", language.English},
		{"", language.English},
		{"12345 !!!", language.English},
		{"你好，世界", language.Chinese},
		{"今日は良い天気ですね", language.Japanese},
		{"안녕하세요", language.Korean},
		{"Привет, мир", language.Russian},
		{"Call me at the 北京 office tomorrow morning", language.English},
		{"我们用 Go 写服务", language.Chinese},
	}
	for _, tt := range tests {
		if got := Detect(tt.text); got != tt.want {
			t.Errorf("Detect(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestName(t *testing.T) {
	if got := Name(language.Chinese); got != "Chinese" {
		t.Errorf("Name(zh) = %q", got)
	}
	if got := Name(language.MustParse("en-US")); got != "English" {
		t.Errorf("Name(en-US) = %q", got)
	}
}

func TestResolverResolve(t *testing.T) {
	r, err := NewResolver("Aoede", "fast", "auto")
	if err != nil {
		t.Fatal(err)
	}

	p := r.Resolve(audio.SynthesisRequest{Text: "你好"})
	if p.Voice != "Aoede" || p.Speed != tts.SpeedFast {
		t.Errorf("profile = %+v", p)
	}
	if !strings.Contains(p.Instruction, "Chinese") {
		t.Errorf("instruction = %q", p.Instruction)
	}

	p = r.Resolve(audio.SynthesisRequest{Text: "hi", Voice: "Kore", Speed: tts.SpeedSlow})
	if p.Voice != "Kore" || p.Speed != tts.SpeedSlow || !strings.Contains(p.Instruction, "English") {
		t.Errorf("profile = %+v", p)
	}
}

func TestResolverFixedLanguage(t *testing.T) {
	r, err := NewResolver("", "", "de")
	if err != nil {
		t.Fatal(err)
	}
	p := r.Resolve(audio.SynthesisRequest{Text: "hello"})
	if !strings.Contains(p.Instruction, "German") {
		t.Errorf("instruction = %q", p.Instruction)
	}
	if p.Speed != tts.SpeedNormal {
		t.Errorf("speed = %q, want Normal", p.Speed)
	}

	if _, err := NewResolver("", "", "not a tag!"); err == nil {
		t.Error("expected error for invalid language")
	}
}
