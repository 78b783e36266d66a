package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var artifactExtensions = map[string]string{
	"markdown": ".md",
	"html":     ".html",
	"text":     ".txt",
}

func registerCreateArtifact(reg *Registry, baseDir string) error {
	return reg.Register(Tool{
		Definition: Definition{
			Name:        "create_artifact",
			Description: "Write a titled artifact (markdown, html, or text) to the artifact directory and return its path.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{
						"type":        "string",
						"description": "Artifact title, used to derive the filename.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Full artifact content.",
					},
					"format": map[string]any{
						"type":        "string",
						"enum":        []string{"markdown", "html", "text"},
						"description": "Artifact format. Default: markdown.",
					},
				},
				"required": []string{"title", "content"},
			},
		},
		Run: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArguments(raw)
			if err != nil {
				return "", err
			}
			title, ok := StringArg(args, "title")
			if !ok || strings.TrimSpace(title) == "" {
				return "", fmt.Errorf("title is required")
			}
			content, ok := StringArg(args, "content")
			if !ok {
				return "", fmt.Errorf("content is required")
			}
			format, _ := StringArg(args, "format")
			if format == "" {
				format = "markdown"
			}
			ext, ok := artifactExtensions[format]
			if !ok {
				return "", fmt.Errorf("unsupported format: %s", format)
			}
			return writeArtifact(baseDir, title, content, ext)
		},
	})
}

// writeArtifact stores content under baseDir with a slug-plus-timestamp
// filename. The slug is rebuilt from scratch so a hostile title cannot
// escape the artifact directory.
func writeArtifact(baseDir, title, content, ext string) (string, error) {
	name := slugify(title)
	if name == "" {
		name = "artifact"
	}
	name = fmt.Sprintf("%s-%s%s", name, time.Now().UTC().Format("20060102T150405"), ext)

	path := filepath.Join(baseDir, name)
	if !strings.HasPrefix(path, filepath.Clean(baseDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("artifact path escapes base directory")
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return fmt.Sprintf("Artifact written to %s (%d bytes)", path, len(content)), nil
}

// slugify keeps lowercase letters, digits, and single hyphens.
func slugify(s string) string {
	var sb strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				sb.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(sb.String(), "-")
}
