package tools

import (
	"net/http"
	"time"
)

// BuiltinOptions configures the built-in tool set. Zero values select
// sensible defaults.
type BuiltinOptions struct {
	// HTTPClient is used by web_fetch. Nil gets a 15s-timeout client.
	HTTPClient *http.Client

	// MaxFetchBytes caps the response body read by web_fetch.
	// Zero means 512 KiB.
	MaxFetchBytes int64

	// ArtifactDir is where create_artifact writes files. Empty disables
	// the tool.
	ArtifactDir string

	// Knowledge is the document set served by knowledge_lookup. Empty
	// disables the tool.
	Knowledge []Document

	// Now overrides the clock used by current_time. Nil means time.Now.
	Now func() time.Time
}

// RegisterBuiltins registers the built-in tools on a registry. Tools whose
// prerequisites are missing (no artifact dir, no knowledge set) are simply
// not registered.
func RegisterBuiltins(reg *Registry, opts BuiltinOptions) error {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.MaxFetchBytes <= 0 {
		opts.MaxFetchBytes = 512 * 1024
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := registerCurrentTime(reg, opts.Now); err != nil {
		return err
	}
	if err := registerWebFetch(reg, opts.HTTPClient, opts.MaxFetchBytes); err != nil {
		return err
	}
	if len(opts.Knowledge) > 0 {
		if err := registerKnowledgeLookup(reg, opts.Knowledge); err != nil {
			return err
		}
	}
	if opts.ArtifactDir != "" {
		if err := registerCreateArtifact(reg, opts.ArtifactDir); err != nil {
			return err
		}
	}
	return nil
}
