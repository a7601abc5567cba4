// Package types defines the shared types used across all copernicus packages.
//
// These types form the lingua franca between providers, pipeline stages, and
// the orchestrator. They are intentionally minimal — each package defines its
// own domain types, but cross-cutting data structures live here to avoid
// circular imports.
package types

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM as part of
// a CompletionRequest's tool-calling surface.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// TranscriptEntry is one speaker-attributed segment of a processed
// recording. It is the unit every downstream stage operates on: persistence
// serializes slices of it, the correction pipeline fills in TextCorrected,
// and compliance/evaluation read Text/TextCorrected back out.
type TranscriptEntry struct {
	// ID addresses this entry stably across pipeline stages.
	ID int `json:"id"`

	// Speaker is the diarized speaker label (e.g. "说话人1", "讲师").
	Speaker string `json:"speaker"`

	// Text is the raw ASR output for this segment.
	Text string `json:"text"`

	// TextCorrected is Text after the four-phase correction pipeline.
	// Empty until correction has run.
	TextCorrected string `json:"text_corrected"`

	// Timestamp is the segment start formatted as MM:SS or HH:MM:SS, matching
	// what's shown to reviewers and echoed back by the LLM in audit/evaluation
	// output.
	Timestamp string `json:"timestamp"`

	// TimestampMs is the authoritative segment start, in milliseconds.
	TimestampMs int `json:"timestamp_ms"`

	// EndMs is the segment end, in milliseconds.
	EndMs int `json:"end_ms"`

	// Confidence is the ASR engine's own confidence for this segment, in
	// [0, 1]. Drives the phase-4 LLM-polish fast path.
	Confidence float64 `json:"confidence"`
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}
