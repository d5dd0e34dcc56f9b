package scraper

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pauljones0/story-monitor/internal/validator"
)

// SelectorConfig holds every CSS selector the extractor relies on, so page
// layout changes can be absorbed without a rebuild.
type SelectorConfig struct {
	// StoryRings are tried in order; the first visible match opens the story.
	StoryRings []string `json:"story_rings" validate:"required,min=1,dive,required"`
	// SeenByControls are the candidate elements for the "Seen by N" control.
	SeenByControls []string `json:"seen_by_controls" validate:"required,min=1,dive,required"`
	// ViewerLinks match the per-viewer links inside the opened panel.
	ViewerLinks []string `json:"viewer_links" validate:"required,min=1,dive,required"`
	// LikeMarkers is searched for around each viewer link.
	LikeMarkers string `json:"like_markers" validate:"required"`
	// LikeSearchDepth is how many ancestors to climb before searching for
	// LikeMarkers.
	LikeSearchDepth int `json:"like_search_depth" validate:"gte=0,lte=10"`
	// SkipSegments are path segments that never name a viewer.
	SkipSegments []string `json:"skip_segments"`
}

// LoadSelectors loads the selector configuration from the specified JSON file.
func LoadSelectors(path string) (SelectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to read selector config file: %w", err)
	}

	return LoadSelectorsFromBytes(data)
}

// LoadSelectorsFromBytes parses and validates selector configuration from
// raw JSON bytes.
func LoadSelectorsFromBytes(data []byte) (SelectorConfig, error) {
	var config SelectorConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to parse selector config JSON: %w", err)
	}
	if err := validator.New().ValidateStruct(config); err != nil {
		return SelectorConfig{}, fmt.Errorf("invalid selector config: %w", err)
	}

	return config, nil
}

// DefaultSelectors returns the fallback configuration. Keep it in step with
// the embedded selectors.json.
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		StoryRings: []string{
			"canvas[height='77'][width='77']",
			"canvas[height='56'][width='56']",
			"div[role='button'] canvas",
		},
		SeenByControls:  []string{"button", "[role='button']", "span"},
		ViewerLinks:     []string{"a[href*='/'][role='link']", "a[href*='/']"},
		LikeMarkers:     "[data-testid='heart'], .heart, [aria-label*='like'], [aria-label*='Like']",
		LikeSearchDepth: 2,
		SkipSegments:    []string{"p", "reel", "stories", "highlights", "explore", "accounts"},
	}
}
