package models

import "strings"

// imageMarkers is the substring heuristic for image-input support, keyed on
// model family/version name fragments. It is a best-effort lookup and not
// guaranteed accurate for identifiers it has never seen; the explicit
// [models.images] capability table in configuration takes precedence.
var imageMarkers = []string{
	"gemini",
	"gpt-4o",
	"gpt-4.1",
	"gpt-5",
	"claude",
	"vision",
	"pixtral",
	"llava",
	"-vl",
}

// SupportsImages reports whether the backend accepts image input, consulting
// the configured capability table first and the name heuristic otherwise.
func (r *Router) SupportsImages(backendID string) bool {
	if enabled, ok := r.cfg.Images[backendID]; ok {
		return enabled
	}
	_, model, err := splitBackendID(backendID)
	if err != nil {
		return false
	}
	model = strings.ToLower(model)
	for _, marker := range imageMarkers {
		if strings.Contains(model, marker) {
			return true
		}
	}
	return false
}
