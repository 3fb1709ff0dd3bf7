// Package schema defines the structured configuration objects stored on
// metadata records: model configuration, embedding configuration, tool-call
// sequences, and agent memory snapshots.
//
// These objects persist as canonical JSON in single columns; the storage
// codecs guarantee they round-trip exactly.
package schema

// LLMConfig describes the completion model an agent is bound to.
type LLMConfig struct {
	Model             string `json:"model"`
	ModelEndpointType string `json:"model_endpoint_type,omitempty"`
	ModelEndpoint     string `json:"model_endpoint,omitempty"`
	ModelWrapper      string `json:"model_wrapper,omitempty"`
	ContextWindow     int    `json:"context_window"`
}

// EmbeddingConfig describes the embedding model attached to an agent or a
// knowledge source.
type EmbeddingConfig struct {
	EmbeddingEndpointType string `json:"embedding_endpoint_type,omitempty"`
	EmbeddingEndpoint     string `json:"embedding_endpoint,omitempty"`
	EmbeddingModel        string `json:"embedding_model"`
	EmbeddingDim          int    `json:"embedding_dim"`
	EmbeddingChunkSize    int    `json:"embedding_chunk_size,omitempty"`
}

// ToolCallFunction is the function payload of one tool call.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall records one tool invocation requested by the model. Function is
// nil when the stored element carried no function payload.
type ToolCall struct {
	ID       string            `json:"id"`
	Type     string            `json:"type,omitempty"`
	Function *ToolCallFunction `json:"function,omitempty"`
}

// MemoryBlock is one labeled section of an agent's in-context memory.
type MemoryBlock struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Limit int64  `json:"limit,omitempty"`
}

// Memory is the structured in-context memory snapshot of an agent, keyed by
// block label. It is stored as JSON, never as an opaque blob.
type Memory struct {
	Blocks         map[string]MemoryBlock `json:"memory"`
	PromptTemplate string                 `json:"prompt_template,omitempty"`
}
