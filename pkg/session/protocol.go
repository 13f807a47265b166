package session

import "encoding/json"

// Inbound message types (client -> server).
const (
	TypeConfig     = "config"
	TypeEndSession = "end_session"
	TypePing       = "ping"
)

// Outbound message types (server -> client).
const (
	TypeTranscriptionUpdate = "transcription_update"
	TypeStatusUpdate        = "status_update"
	TypeAudioStart          = "audio_start"
	TypeError               = "error"
	TypePong                = "pong"
	TypeLanguageChange      = "language_change"
)

// Status values for status_update.data.state.
const (
	StatusIdle      = "idle"
	StatusListening = "listening"
	StatusThinking  = "thinking"
	StatusSpeaking  = "speaking"
)

// envelope is the wire shape every text message follows: a required
// string type and an optional object payload. Grounded field-for-field on
// original_source/backend/src/core/message_protocol.cpp.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// InboundConfigData is the payload of an inbound "config" message.
type InboundConfigData struct {
	SourceLang                 string   `json:"sourceLang"`
	TargetLang                 string   `json:"targetLang"`
	Voice                      string   `json:"voice"`
	LanguageDetectionEnabled   *bool    `json:"languageDetectionEnabled,omitempty"`
	AutoLanguageSwitching      *bool    `json:"autoLanguageSwitching,omitempty"`
	LanguageDetectionThreshold *float64 `json:"languageDetectionThreshold,omitempty"`
}

// TranscriptionUpdateData is the payload of an outbound
// "transcription_update" message.
type TranscriptionUpdateData struct {
	Text               string  `json:"text"`
	UtteranceID        uint64  `json:"utteranceId"`
	Confidence         float64 `json:"confidence"`
	IsPartial          bool    `json:"isPartial"`
	StartTimeMs        float64 `json:"startTimeMs"`
	EndTimeMs          float64 `json:"endTimeMs"`
	DetectedLanguage   string  `json:"detectedLanguage"`
	LanguageConfidence float64 `json:"languageConfidence"`
	LanguageChanged    bool    `json:"languageChanged"`
}

// StatusUpdateData is the payload of an outbound "status_update" message.
type StatusUpdateData struct {
	State       string  `json:"state"`
	UtteranceID *uint64 `json:"utteranceId,omitempty"`
}

// AudioStartData is the payload of an outbound "audio_start" message.
type AudioStartData struct {
	UtteranceID uint64  `json:"utteranceId"`
	Duration    float64 `json:"duration"`
}

// ErrorData is the payload of an outbound "error" message.
type ErrorData struct {
	Message     string  `json:"message"`
	Code        string  `json:"code,omitempty"`
	UtteranceID *uint64 `json:"utteranceId,omitempty"`
}

// LanguageChangeData is the payload of an outbound "language_change"
// message.
type LanguageChangeData struct {
	OldLanguage string  `json:"oldLanguage"`
	NewLanguage string  `json:"newLanguage"`
	Confidence  float64 `json:"confidence"`
	UtteranceID *uint64 `json:"utteranceId,omitempty"`
}

// DecodeInbound parses a raw text frame into its type and, for "config",
// the decoded payload. Unknown types, malformed JSON and malformed config
// payloads are all reported as a *Error with CodeProtocolError;
// Session.IngestJSON answers each of them with an outbound error message.
func DecodeInbound(raw []byte) (msgType string, cfg *InboundConfigData, err error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, Wrap(err, CodeProtocolError, "malformed JSON")
	}
	switch env.Type {
	case TypeConfig:
		var data InboundConfigData
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &data); err != nil {
				return "", nil, Wrap(err, CodeProtocolError, "malformed config payload")
			}
		}
		return TypeConfig, &data, nil
	case TypeEndSession, TypePing:
		return env.Type, nil, nil
	default:
		return "", nil, New(CodeProtocolError, "unknown message type: "+env.Type)
	}
}

func encodeOutbound(msgType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: msgType, Data: raw})
}
