package tts

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func TestBuildSetup(t *testing.T) {
	msg, err := BuildSetup(SetupParams{
		Model:       "models/test",
		Voice:       "Kore",
		Instruction: "Read the text aloud in English.",
		Speed:       SpeedSlow,
	})
	if err != nil {
		t.Fatalf("BuildSetup() error = %v", err)
	}
	if msg.Type != TextMessage {
		t.Fatalf("expected text frame, got %s", msg.Type)
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("setup is not JSON: %v", err)
	}
	setup := decoded["setup"].(map[string]any)
	if setup["model"] != "models/test" {
		t.Fatalf("unexpected model %v", setup["model"])
	}
	gen := setup["generationConfig"].(map[string]any)
	modalities := gen["responseModalities"].([]any)
	if len(modalities) != 1 || modalities[0] != "AUDIO" {
		t.Fatalf("unexpected modalities %v", modalities)
	}
	voice := gen["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)["voiceName"]
	if voice != "Kore" {
		t.Fatalf("unexpected voice %v", voice)
	}
	parts := setup["systemInstruction"].(map[string]any)["parts"].([]any)
	text := parts[0].(map[string]any)["text"]
	if text != "Read the text aloud in English. Speak slowly and clearly." {
		t.Fatalf("unexpected instruction %q", text)
	}
}

func TestBuildSetupRequiresModel(t *testing.T) {
	if _, err := BuildSetup(SetupParams{Voice: "Kore"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestBuildText(t *testing.T) {
	msg, err := BuildText("hello")
	if err != nil {
		t.Fatalf("BuildText() error = %v", err)
	}
	const want = `{"clientContent":{"turns":[{"role":"user","parts":[{"text":"hello"}]}],"turnComplete":true}}`
	if string(msg.Data) != want {
		t.Fatalf("unexpected payload:\n got %s\nwant %s", msg.Data, want)
	}
}

func TestParseMessage(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f}
	encoded := base64.StdEncoding.EncodeToString(pcm)

	tests := []struct {
		name  string
		msg   Message
		check func(t *testing.T, ev ServerEvent)
	}{
		{
			name: "setup complete",
			msg:  Message{Type: TextMessage, Data: []byte(`{"setupComplete":{}}`)},
			check: func(t *testing.T, ev ServerEvent) {
				if !ev.SetupComplete {
					t.Fatal("expected SetupComplete")
				}
			},
		},
		{
			name: "inline audio in binary envelope",
			msg: Message{Type: BinaryMessage, Data: []byte(`{"serverContent":{"modelTurn":{"parts":[` +
				`{"text":"ignored"},{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + encoded + `"}}]}}}`)},
			check: func(t *testing.T, ev ServerEvent) {
				if len(ev.Audio) != 1 || string(ev.Audio[0]) != string(pcm) {
					t.Fatalf("unexpected audio %v", ev.Audio)
				}
				if ev.TurnComplete {
					t.Fatal("turn must not be complete")
				}
			},
		},
		{
			name: "turn complete",
			msg:  Message{Type: TextMessage, Data: []byte(`{"serverContent":{"turnComplete":true}}`)},
			check: func(t *testing.T, ev ServerEvent) {
				if !ev.TurnComplete {
					t.Fatal("expected TurnComplete")
				}
			},
		},
		{
			name: "interrupted",
			msg:  Message{Type: TextMessage, Data: []byte(`{"serverContent":{"interrupted":true}}`)},
			check: func(t *testing.T, ev ServerEvent) {
				if !ev.Interrupted {
					t.Fatal("expected Interrupted")
				}
			},
		},
		{
			name: "raw pcm binary",
			msg:  Message{Type: BinaryMessage, Data: pcm},
			check: func(t *testing.T, ev ServerEvent) {
				if len(ev.Audio) != 1 || len(ev.Audio[0]) != len(pcm) {
					t.Fatalf("expected raw audio passthrough, got %v", ev.Audio)
				}
			},
		},
		{
			name: "binary starting with brace but not json",
			msg:  Message{Type: BinaryMessage, Data: []byte{'{', 0x00, 0x10, 0x20}},
			check: func(t *testing.T, ev ServerEvent) {
				if len(ev.Audio) != 1 {
					t.Fatalf("expected raw audio passthrough, got %v", ev.Audio)
				}
			},
		},
		{
			name: "service error",
			msg:  Message{Type: TextMessage, Data: []byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`)},
			check: func(t *testing.T, ev ServerEvent) {
				if !errors.Is(ev.Err, ErrAuth) {
					t.Fatalf("expected ErrAuth, got %v", ev.Err)
				}
			},
		},
		{
			name: "empty frame",
			msg:  Message{Type: TextMessage, Data: []byte("  ")},
			check: func(t *testing.T, ev ServerEvent) {
				if ev.SetupComplete || ev.TurnComplete || len(ev.Audio) != 0 || ev.Err != nil {
					t.Fatalf("expected zero event, got %+v", ev)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseMessage(tt.msg)
			if err != nil {
				t.Fatalf("ParseMessage() error = %v", err)
			}
			tt.check(t, ev)
		})
	}
}

func TestParseMessageRejectsMalformedText(t *testing.T) {
	if _, err := ParseMessage(Message{Type: TextMessage, Data: []byte("not json")}); err == nil {
		t.Fatal("expected error for malformed text frame")
	}
}

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		status string
		code   int
		want   error
	}{
		{"UNAUTHENTICATED", 401, ErrAuth},
		{"INVALID_ARGUMENT", 400, ErrBadRequest},
		{"UNAVAILABLE", 503, ErrTransient},
		{"RESOURCE_EXHAUSTED", 429, ErrTransient},
	}
	for _, tt := range tests {
		if err := mapServiceError(tt.status, tt.code, "boom"); !errors.Is(err, tt.want) {
			t.Fatalf("%s: expected %v, got %v", tt.status, tt.want, err)
		}
	}
	if err := mapServiceError("INTERNAL", 500, ""); err == nil || err.Error() != "synthesis failed" {
		t.Fatalf("unexpected fallback error %v", err)
	}
}

func TestParseSpeed(t *testing.T) {
	cases := map[string]Speed{"slow": SpeedSlow, " FAST ": SpeedFast, "normal": SpeedNormal, "": SpeedNormal, "warp": SpeedNormal}
	for in, want := range cases {
		if got := ParseSpeed(in); got != want {
			t.Fatalf("ParseSpeed(%q) = %s, want %s", in, got, want)
		}
	}
}
