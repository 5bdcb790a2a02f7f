// Package artifact classifies renderable artifacts embedded in tool output.
package artifact

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/consilium-ai/orchestration-engine/internal/model"
	"github.com/consilium-ai/orchestration-engine/pkg/metrics"
)

// classifier pairs a content predicate with the artifact type it produces.
// Classification is content-only: event metadata never influences the result.
type classifier struct {
	kind  model.ArtifactType
	match func(string) bool
	title func(string) string
}

// chain is checked in priority order because content can match more than one
// shape. New artifact types are added here without touching existing entries.
var chain = []classifier{
	{model.ArtifactSVG, isSVG, svgTitle},
	{model.ArtifactHTML, isHTML, htmlTitle},
	{model.ArtifactImage, isImageURL, imageTitle},
	{model.ArtifactMarkdown, isMarkdown, markdownTitle},
	{model.ArtifactCode, isCodeBlock, codeTitle},
}

// nestedKeys are the well-known keys of a structured tool result that may
// carry renderable content.
var nestedKeys = []string{
	"content", "output", "visualization", "diagram", "chart",
	"document", "markdown", "html", "svg", "response",
}

// structuredKeys yield a json artifact when their value is itself structured.
var structuredKeys = map[string]bool{
	"visualization": true,
	"diagram":       true,
	"chart":         true,
}

var (
	imageURLRe = regexp.MustCompile(`(?i)^https?://\S+\.(?:png|jpe?g|gif|webp|bmp)$`)
	titleTagRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	headingRe  = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	fenceRe    = regexp.MustCompile("^```([a-zA-Z0-9_+-]*)")
)

// Detect classifies a string as a renderable artifact. It returns the type,
// a best-effort title, and false when no shape matches.
func Detect(content string) (model.ArtifactType, string, bool) {
	if strings.TrimSpace(content) == "" {
		return "", "", false
	}
	for _, c := range chain {
		if c.match(content) {
			return c.kind, c.title(content), true
		}
	}
	return "", "", false
}

// Extract walks a decoded tool result and returns every artifact found,
// each carrying the given provenance. It recurses into the well-known nested
// keys so artifacts buried in structured output are still surfaced.
func Extract(value any, src model.ArtifactSource) []model.Artifact {
	if raw, ok := value.(json.RawMessage); ok {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			// Not valid JSON; try the raw bytes as plain text.
			decoded = string(raw)
		}
		value = decoded
	}

	var found []model.Artifact

	switch v := value.(type) {
	case string:
		if a, ok := build(v, src); ok {
			found = append(found, a)
		}

	case map[string]any:
		for _, key := range nestedKeys {
			nested, ok := v[key]
			if !ok {
				continue
			}
			switch n := nested.(type) {
			case string:
				if a, ok := build(n, src); ok {
					found = append(found, a)
				}
			case map[string]any, []any:
				if structuredKeys[key] {
					if a, ok := buildJSON(n, key, src); ok {
						found = append(found, a)
					}
				}
			}
		}
		found = append(found, extractTurns(v, src)...)
	}

	for _, a := range found {
		metrics.ArtifactsDetected.WithLabelValues(string(a.Type)).Inc()
	}
	return found
}

// extractTurns scans a discussion transcript for renderable turn messages.
func extractTurns(result map[string]any, src model.ArtifactSource) []model.Artifact {
	turns, ok := result["turns"].([]any)
	if !ok {
		return nil
	}

	var found []model.Artifact
	for _, t := range turns {
		turn, ok := t.(map[string]any)
		if !ok {
			continue
		}
		message, ok := turn["message"].(string)
		if !ok {
			continue
		}

		turnSrc := src
		turnSrc.DiscussionID = src.ToolCallID
		if agentID, ok := turn["agent_id"].(string); ok {
			turnSrc.AgentID = agentID
		}
		if a, ok := build(message, turnSrc); ok {
			found = append(found, a)
		}
	}
	return found
}

func build(content string, src model.ArtifactSource) (model.Artifact, bool) {
	kind, title, ok := Detect(content)
	if !ok {
		return model.Artifact{}, false
	}
	return model.Artifact{
		ID:      uuid.Must(uuid.NewV7()).String(),
		Type:    kind,
		Title:   title,
		Content: content,
		Source:  src,
	}, true
}

func buildJSON(value any, key string, src model.ArtifactSource) (model.Artifact, bool) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return model.Artifact{}, false
	}
	return model.Artifact{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Type:     model.ArtifactJSON,
		Title:    "Structured " + key,
		Content:  string(data),
		Source:   src,
		Metadata: map[string]string{"key": key},
	}, true
}

func isSVG(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "<svg") && strings.Contains(lower, "</svg>")
}

func isHTML(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype html")
}

func isImageURL(content string) bool {
	return imageURLRe.MatchString(strings.TrimSpace(content))
}

// isMarkdown matches prose with markdown markers. A string that is nothing
// but a single fenced code block is left for the code classifier.
func isMarkdown(content string) bool {
	if headingRe.MatchString(content) || strings.Contains(content, "**") {
		return true
	}
	return strings.Contains(content, "```") && !isCodeBlock(content)
}

func isCodeBlock(content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, "```") &&
		strings.HasSuffix(trimmed, "```") &&
		strings.Count(trimmed, "```") == 2
}

func svgTitle(content string) string {
	if m := titleTagRe.FindStringSubmatch(content); m != nil {
		if t := strings.TrimSpace(m[1]); t != "" {
			return t
		}
	}
	return "SVG Diagram"
}

func htmlTitle(content string) string {
	if m := titleTagRe.FindStringSubmatch(content); m != nil {
		if t := strings.TrimSpace(m[1]); t != "" {
			return t
		}
	}
	return "HTML Document"
}

func imageTitle(string) string {
	return "Image"
}

func markdownTitle(content string) string {
	if m := headingRe.FindStringSubmatch(content); m != nil {
		if t := strings.TrimSpace(m[1]); t != "" {
			return t
		}
	}
	return "Markdown Document"
}

func codeTitle(content string) string {
	trimmed := strings.TrimSpace(content)
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil && m[1] != "" {
		return m[1] + " snippet"
	}
	return "Code Snippet"
}
