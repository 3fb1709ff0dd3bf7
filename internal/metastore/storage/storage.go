package storage

import (
	"errors"
	"time"

	"github.com/recallkit/recallkit/internal/metastore/schema"
)

// ErrAlreadyExists indicates a create violated a uniqueness invariant.
var ErrAlreadyExists = errors.New("record already exists")

// ErrIntegrity indicates a unique-key lookup matched more than one row,
// which means an invariant was breached by an earlier write.
var ErrIntegrity = errors.New("integrity violation")

// ErrDecode indicates a stored configuration column does not deserialize
// into its expected structured type.
var ErrDecode = errors.New("decode stored value")

// User owns agents, sources, and credentials.
type User struct {
	ID             string
	OrganizationID string
	Name           string
}

// UserPage is a paged set of users.
type UserPage struct {
	Users         []User
	NextPageToken string
}

// APIKey is an issued credential bound to one user. Key is generated, never
// derived from user input, and is globally unique across all users.
type APIKey struct {
	ID     string
	UserID string
	Key    string
	Name   string
}

// APIKeyPage is a paged set of api keys.
type APIKeyPage struct {
	Keys          []APIKey
	NextPageToken string
}

// Agent is the persisted definition of one agent: identity, prompt state,
// memory snapshot, tool names, and model/embedding configuration. Name is
// unique per user.
type Agent struct {
	ID          string
	UserID      string
	Name        string
	CreatedAt   time.Time
	Description string

	MessageIDs []string
	Memory     *schema.Memory
	System     string
	Tools      []string

	AgentType       string
	LLMConfig       *schema.LLMConfig
	EmbeddingConfig *schema.EmbeddingConfig

	Metadata map[string]any
}

// AgentPage is a paged set of agents.
type AgentPage struct {
	Agents        []Agent
	NextPageToken string
}

// Source is an attachable knowledge source. Name is unique per user.
type Source struct {
	ID              string
	UserID          string
	Name            string
	CreatedAt       time.Time
	EmbeddingConfig *schema.EmbeddingConfig
	Description     string
	Metadata        map[string]any
}

// SourcePage is a paged set of sources.
type SourcePage struct {
	Sources       []Source
	NextPageToken string
}

// AgentSourceMapping associates one agent with one attached source. The
// mapping id is derived from the triple, so attaching the same source twice
// fails rather than duplicating rows. Endpoints are weak references: a
// mapping may outlive its agent or source, and readers must tolerate that.
type AgentSourceMapping struct {
	ID       string
	UserID   string
	AgentID  string
	SourceID string
}

// Block labels discriminating the memory-block variants.
const (
	LabelHuman   = "human"
	LabelPersona = "persona"
)

// Block is a reusable memory section. Label tags the variant (human,
// persona, or free-form); Template marks blocks listable as defaults, and
// only template blocks are subject to per-(user, label) name uniqueness.
type Block struct {
	ID          string
	Name        string
	Value       string
	Limit       int64
	Template    bool
	Label       string
	Metadata    map[string]any
	Description string
	UserID      string
}

// NewHumanBlock builds the human-labeled block variant.
func NewHumanBlock(id, userID, name, value string) Block {
	return Block{ID: id, UserID: userID, Name: name, Value: value, Label: LabelHuman}
}

// NewPersonaBlock builds the persona-labeled block variant.
func NewPersonaBlock(id, userID, name, value string) Block {
	return Block{ID: id, UserID: userID, Name: name, Value: value, Label: LabelPersona}
}

// BlockFilter narrows block listing. Zero-valued fields do not filter.
type BlockFilter struct {
	UserID        string
	Label         string
	Name          string
	TemplatesOnly bool
}

// BlockPage is a paged set of blocks.
type BlockPage struct {
	Blocks        []Block
	NextPageToken string
}

// Tool is a callable tool definition. An empty UserID marks a globally
// shared tool; a non-empty UserID marks a per-user override. One global
// tool per name plus at most one override per (user, name) may coexist.
type Tool struct {
	ID          string
	Name        string
	UserID      string
	Description string
	SourceType  string
	SourceCode  string
	JSONSchema  map[string]any
	Module      string
	Tags        []string
}

// ToolPage is a paged set of tools.
type ToolPage struct {
	Tools         []Tool
	NextPageToken string
}

// JobStatus tracks background job progress. Transitions are expected to be
// monotonic but are not validated as such.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is a tracked background job. CompletedAt is set only on the
// transition to JobStatusCompleted.
type Job struct {
	ID          string
	UserID      string
	Status      JobStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
	Metadata    map[string]any
}

// JobPage is a paged set of jobs.
type JobPage struct {
	Jobs          []Job
	NextPageToken string
}

// FileMetadata describes one file ingested into a source. SourceID is a
// weak reference; file rows are deleted explicitly, not cascaded.
type FileMetadata struct {
	ID                   string
	UserID               string
	SourceID             string
	FileName             string
	FilePath             string
	FileType             string
	FileSize             int64
	FileCreationDate     string
	FileLastModifiedDate string
	CreatedAt            time.Time
}

// FilePage is a paged set of file metadata records.
type FilePage struct {
	Files         []FileMetadata
	NextPageToken string
}

// Preset is the legacy bundled agent template, superseded by the
// Agent+Block+Tool composition. Retained for reads of older databases.
type Preset struct {
	ID              string
	UserID          string
	Name            string
	Description     string
	System          string
	Human           string
	HumanName       string
	Persona         string
	PersonaName     string
	CreatedAt       time.Time
	FunctionsSchema []map[string]any
}

// PresetPage is a paged set of presets.
type PresetPage struct {
	Presets       []Preset
	NextPageToken string
}
