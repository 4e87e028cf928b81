package tts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/liuscraft/orion-speak/internal/logging"
)

// Speed is the pace requested from the synthesis service.
type Speed string

const (
	SpeedSlow   Speed = "Slow"
	SpeedNormal Speed = "Normal"
	SpeedFast   Speed = "Fast"
)

// ParseSpeed accepts any casing and falls back to SpeedNormal.
func ParseSpeed(s string) Speed {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "slow":
		return SpeedSlow
	case "fast":
		return SpeedFast
	default:
		return SpeedNormal
	}
}

func (s Speed) directive() string {
	switch s {
	case SpeedSlow:
		return "Speak slowly and clearly."
	case SpeedFast:
		return "Speak quickly."
	default:
		return ""
	}
}

type SetupParams struct {
	Model       string
	Voice       string
	Instruction string
	Speed       Speed
}

// ServerEvent is the structured content of one server frame.
type ServerEvent struct {
	SetupComplete bool
	Audio         [][]byte
	TurnComplete  bool
	Interrupted   bool
	Err           error
}

func BuildSetup(p SetupParams) (Message, error) {
	if strings.TrimSpace(p.Model) == "" {
		return Message{}, fmt.Errorf("%w: model is required", ErrBadRequest)
	}

	body := setupBody{
		Model: p.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if voice := strings.TrimSpace(p.Voice); voice != "" {
		body.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice}},
		}
	}

	instruction := strings.TrimSpace(p.Instruction)
	if d := p.Speed.directive(); d != "" {
		instruction = strings.TrimSpace(instruction + " " + d)
	}
	if instruction != "" {
		body.SystemInstruction = &content{Parts: []textPart{{Text: instruction}}}
	}

	data, err := json.Marshal(setupMessage{Setup: body})
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TextMessage, Data: data}, nil
}

func BuildText(text string) (Message, error) {
	payload := clientContentMessage{
		ClientContent: clientContent{
			Turns: []content{{
				Role:  "user",
				Parts: []textPart{{Text: text}},
			}},
			TurnComplete: true,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TextMessage, Data: data}, nil
}

// ParseMessage decodes a server frame. Text and binary frames are both tried
// as the JSON envelope; a binary frame that is not JSON is raw PCM16.
func ParseMessage(msg Message) (ServerEvent, error) {
	trimmed := bytes.TrimSpace(msg.Data)
	if len(trimmed) == 0 {
		return ServerEvent{}, nil
	}

	var env serverEnvelope
	if trimmed[0] != '{' || json.Unmarshal(trimmed, &env) != nil {
		if msg.Type == BinaryMessage {
			return ServerEvent{Audio: [][]byte{msg.Data}}, nil
		}
		return ServerEvent{}, fmt.Errorf("malformed %s frame (%d bytes)", msg.Type, len(msg.Data))
	}

	var ev ServerEvent
	ev.SetupComplete = env.SetupComplete != nil
	if sc := env.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				mime := strings.ToLower(part.InlineData.MimeType)
				if mime != "" && !strings.HasPrefix(mime, "audio/") {
					continue
				}
				ev.Audio = append(ev.Audio, part.InlineData.Data)
			}
		}
		ev.TurnComplete = sc.TurnComplete
		ev.Interrupted = sc.Interrupted
	}
	if env.Error != nil {
		ev.Err = mapServiceError(env.Error.Status, env.Error.Code, env.Error.Message)
	}
	return ev, nil
}

func mapServiceError(status string, code int, message string) error {
	logging.Errorf("TTS service error: status=%s, code=%d, message=%s", status, code, message)
	lower := strings.ToLower(status + " " + message)
	switch {
	case code == 401, code == 403,
		strings.Contains(lower, "unauthenticated"), strings.Contains(lower, "permission_denied"),
		strings.Contains(lower, "api key"):
		return fmt.Errorf("%w: %s", ErrAuth, message)
	case code == 400, strings.Contains(lower, "invalid_argument"):
		return fmt.Errorf("%w: %s", ErrBadRequest, message)
	case code == 429, code == 503, code == 504,
		strings.Contains(lower, "unavailable"), strings.Contains(lower, "resource_exhausted"),
		strings.Contains(lower, "deadline"):
		return fmt.Errorf("%w: %s", ErrTransient, message)
	}
	if message == "" {
		message = "synthesis failed"
	}
	return errors.New(message)
}

type setupMessage struct {
	Setup setupBody `json:"setup"`
}

type setupBody struct {
	Model             string           `json:"model"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string     `json:"role,omitempty"`
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

type serverEnvelope struct {
	SetupComplete *json.RawMessage `json:"setupComplete"`
	ServerContent *serverContent   `json:"serverContent"`
	Error         *serviceError    `json:"error"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn"`
	TurnComplete bool       `json:"turnComplete"`
	Interrupted  bool       `json:"interrupted"`
}

type modelTurn struct {
	Parts []serverPart `json:"parts"`
}

type serverPart struct {
	Text       string      `json:"text"`
	InlineData *inlineData `json:"inlineData"`
}

// Data arrives base64-encoded; encoding/json decodes it into the byte slice.
type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type serviceError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}
