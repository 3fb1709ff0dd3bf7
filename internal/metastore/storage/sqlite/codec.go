package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/recallkit/recallkit/internal/metastore/schema"
	"github.com/recallkit/recallkit/internal/metastore/storage"
)

// Config-bearing columns store only the canonical JSON form of their
// structured object. A nil object stays NULL; it is never encoded as {}.
// Stored JSON that cannot populate its target type fails decoding with
// storage.ErrDecode and is never silently defaulted.

func encodeLLMConfig(cfg *schema.LLMConfig) (sql.NullString, error) {
	if cfg == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal llm config: %w", err)
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func decodeLLMConfig(value sql.NullString) (*schema.LLMConfig, error) {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return nil, nil
	}
	var cfg schema.LLMConfig
	if err := json.Unmarshal([]byte(value.String), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal llm config: %w: %v", storage.ErrDecode, err)
	}
	return &cfg, nil
}

func encodeEmbeddingConfig(cfg *schema.EmbeddingConfig) (sql.NullString, error) {
	if cfg == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal embedding config: %w", err)
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func decodeEmbeddingConfig(value sql.NullString) (*schema.EmbeddingConfig, error) {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return nil, nil
	}
	var cfg schema.EmbeddingConfig
	if err := json.Unmarshal([]byte(value.String), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal embedding config: %w: %v", storage.ErrDecode, err)
	}
	return &cfg, nil
}

func encodeMemory(memory *schema.Memory) (sql.NullString, error) {
	if memory == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(memory)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal memory: %w", err)
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func decodeMemory(value sql.NullString) (*schema.Memory, error) {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return nil, nil
	}
	var memory schema.Memory
	if err := json.Unmarshal([]byte(value.String), &memory); err != nil {
		return nil, fmt.Errorf("unmarshal memory: %w: %v", storage.ErrDecode, err)
	}
	return &memory, nil
}

func encodeToolCalls(calls []schema.ToolCall) (sql.NullString, error) {
	if calls == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(calls)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal tool calls: %w", err)
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

// decodeToolCalls decodes each stored element independently; an element
// without a function payload decodes with a nil Function rather than
// failing the whole list.
func decodeToolCalls(value sql.NullString) ([]schema.ToolCall, error) {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(value.String), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal tool calls: %w: %v", storage.ErrDecode, err)
	}
	calls := make([]schema.ToolCall, 0, len(raw))
	for i, element := range raw {
		var call schema.ToolCall
		if err := json.Unmarshal(element, &call); err != nil {
			return nil, fmt.Errorf("unmarshal tool call %d: %w: %v", i, storage.ErrDecode, err)
		}
		calls = append(calls, call)
	}
	return calls, nil
}

func encodeStringList(values []string) (sql.NullString, error) {
	if values == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal string list: %w", err)
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func decodeStringList(value sql.NullString) ([]string, error) {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(value.String), &values); err != nil {
		return nil, fmt.Errorf("unmarshal string list: %w: %v", storage.ErrDecode, err)
	}
	return values, nil
}

func encodeMetadata(metadata map[string]any) (sql.NullString, error) {
	if metadata == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func decodeMetadata(value sql.NullString) (map[string]any, error) {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(value.String), &metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w: %v", storage.ErrDecode, err)
	}
	return metadata, nil
}

func encodeFunctionsSchema(functions []map[string]any) (sql.NullString, error) {
	if functions == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(functions)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal functions schema: %w", err)
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func decodeFunctionsSchema(value sql.NullString) ([]map[string]any, error) {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return nil, nil
	}
	var functions []map[string]any
	if err := json.Unmarshal([]byte(value.String), &functions); err != nil {
		return nil, fmt.Errorf("unmarshal functions schema: %w: %v", storage.ErrDecode, err)
	}
	return functions, nil
}
