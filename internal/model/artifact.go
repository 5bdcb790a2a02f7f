package model

// ArtifactType classifies a renderable artifact.
type ArtifactType string

const (
	ArtifactMarkdown ArtifactType = "markdown"
	ArtifactSVG      ArtifactType = "svg"
	ArtifactHTML     ArtifactType = "html"
	ArtifactCode     ArtifactType = "code"
	ArtifactImage    ArtifactType = "image"
	ArtifactJSON     ArtifactType = "json"
)

// ArtifactSource records where an artifact was extracted from.
type ArtifactSource struct {
	ToolCallID   string `json:"tool_call_id,omitempty"`
	AgentID      string `json:"agent_id,omitempty"`
	DiscussionID string `json:"discussion_id,omitempty"`
}

// Artifact is a renderable document extracted from tool output. IDs are
// generated locally at detection time, not derived from event IDs.
type Artifact struct {
	ID       string            `json:"id"`
	Type     ArtifactType      `json:"type"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Source   ArtifactSource    `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
