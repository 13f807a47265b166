package session

import "fmt"

// Code is a stable string identifying an error category; it is used
// verbatim as the wire protocol's error.code field (see SPEC_FULL.md §7),
// so there is exactly one taxonomy instead of a separate mapping table.
type Code string

const (
	CodeConfigInvalid           Code = "CONFIG_INVALID"
	CodeAudioIngestError        Code = "AUDIO_INGEST_ERROR"
	CodeVADModelError           Code = "VAD_MODEL_ERROR"
	CodeTranscriptionInitError  Code = "TRANSCRIPTION_INIT_ERROR"
	CodeTranscriptionError      Code = "TRANSCRIPTION_ERROR"
	CodeProtocolError           Code = "PROTOCOL_ERROR"
	CodeResourceExhausted       Code = "RESOURCE_EXHAUSTED"
)

// Error is the structured error type surfaced to clients. Grounded on
// team-hashing-lokutor-orchestrator/pkg/orchestrator/errors.go's plain
// sentinel style, enriched with the Code field the wire protocol needs
// (see DESIGN.md for why the heavier protobuf/gRPC-coupled AppError
// pattern from the retrieval pack was not used here).
type Error struct {
	Code        Code
	Message     string
	UtteranceID uint64 // 0 when not utterance-scoped
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a session-scoped (non-utterance) Error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// NewForUtterance constructs an utterance-scoped Error.
func NewForUtterance(code Code, utteranceID uint64, msg string) *Error {
	return &Error{Code: code, Message: msg, UtteranceID: utteranceID}
}

// Wrap wraps cause in an Error with the given code and message.
func Wrap(cause error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}
