// Package reconcile derives which themes of a task are still selectable and
// gates group registration on that result.
package reconcile

import "taskboard/api/internal/tasks"

type AnnotatedTheme struct {
	Index       int    `json:"index"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
	// ClaimedBy is the name of the first group registered for the theme.
	ClaimedBy string `json:"claimedBy,omitempty"`
}

// Annotate tags every theme with its availability: a theme is available iff
// no group names its title. Output order follows themes; inputs are not
// modified.
func Annotate(themes []tasks.Theme, groups []tasks.Group) []AnnotatedTheme {
	claims := make(map[string]string, len(groups))
	for _, group := range groups {
		if _, ok := claims[group.Theme]; !ok {
			claims[group.Theme] = group.Name
		}
	}

	out := make([]AnnotatedTheme, 0, len(themes))
	for i, theme := range themes {
		claimedBy, taken := claims[theme.Title]
		out = append(out, AnnotatedTheme{
			Index:       i,
			Title:       theme.Title,
			Description: theme.Description,
			Available:   !taken,
			ClaimedBy:   claimedBy,
		})
	}
	return out
}
