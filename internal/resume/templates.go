package resume

// DefaultTemplate is assigned to new and un-templated documents.
const DefaultTemplate = "classic"

// templates is the set of layout identifiers the frontend can render.
var templates = []string{"classic", "modern", "minimal", "minimal-image"}

// Templates returns the known layout identifiers.
func Templates() []string {
	out := make([]string, len(templates))
	copy(out, templates)
	return out
}

// IsValidTemplate reports whether id names a known layout.
func IsValidTemplate(id string) bool {
	for _, t := range templates {
		if t == id {
			return true
		}
	}
	return false
}
