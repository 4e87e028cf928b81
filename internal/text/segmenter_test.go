package text

import (
	"reflect"
	"testing"
)

func TestSegmenterFeed(t *testing.T) {
	s := NewSegmenter(0)
	got := s.Feed("你好。今天天气不错！Is it? Yes")
	want := []string{"你好。", "今天天气不错！", "Is it?"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Feed() = %q, want %q", got, want)
	}
	if rest := s.Flush(); rest != "Yes" {
		t.Errorf("Flush() = %q, want %q", rest, "Yes")
	}
	if rest := s.Flush(); rest != "" {
		t.Errorf("second Flush() = %q", rest)
	}
}

func TestSegmenterDecimalPoint(t *testing.T) {
	s := NewSegmenter(0)
	got := s.Feed("Pi is 3.14 roughly. Version 2. Done")
	want := []string{"Pi is 3.14 roughly.", "Version 2."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Feed() = %q, want %q", got, want)
	}

	// 跨 Feed 调用时小数点同样不断句
	s = NewSegmenter(0)
	if got := s.Feed("about 2."); len(got) != 0 {
		t.Fatalf("Feed() = %q, want nothing yet", got)
	}
	if got := s.Feed("5 km"); len(got) != 0 {
		t.Fatalf("Feed() = %q, want nothing yet", got)
	}
	if rest := s.Flush(); rest != "about 2.5 km" {
		t.Errorf("Flush() = %q", rest)
	}
}

func TestSegmenterMaxRunes(t *testing.T) {
	s := NewSegmenter(12)
	got := s.Feed("alpha beta, gamma delta")
	if len(got) == 0 {
		t.Fatal("expected a forced split")
	}
	if got[0] != "alpha beta," {
		t.Errorf("first = %q, want split at the comma", got[0])
	}

	hard := NewSegmenter(4)
	parts := hard.Feed("abcdefgh")
	if !reflect.DeepEqual(parts, []string{"abcd", "efgh"}) {
		t.Errorf("hard split = %q", parts)
	}
}

func TestPrepare(t *testing.T) {
	input := "# Release notes\n\n- Added **speed** control.\n- Fixed a crash!\n\n---\n\n```sh\nmake\n```"
	got := Prepare(input, NewMarkdownFilter(nil), 0)
	want := []string{"Release notes", "Added speed control.", "Fixed a crash!"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Prepare() = %q, want %q", got, want)
	}

	if got := Prepare("... --- !!!", nil, 0); len(got) != 0 {
		t.Errorf("Prepare(punctuation) = %q, want nothing", got)
	}
}
