package terms

import "rollbook-server-go/models"

// ParseGrade coerces one raw grade input; see models.ParseGrade.
func ParseGrade(raw string) (int, bool) {
	return models.ParseGrade(raw)
}

// CleanGrades turns raw inputs into the grades to persist. Inputs that are
// not a grade are dropped, never stored as a placeholder.
func CleanGrades(raw map[string]string) map[string]int {
	out := make(map[string]int, len(raw))
	for sid, v := range raw {
		if g, ok := models.ParseGrade(v); ok {
			out[sid] = g
		}
	}
	return out
}

// MergeGrades overlays unsaved edits on the persisted grades. An edit wins
// for its student even when it clears the grade, so the result can differ
// from what is stored.
func MergeGrades(persisted map[string]int, edits map[string]string) map[string]int {
	out := make(map[string]int, len(persisted)+len(edits))
	for sid, g := range persisted {
		out[sid] = g
	}
	for sid, raw := range edits {
		if g, ok := models.ParseGrade(raw); ok {
			out[sid] = g
		} else {
			delete(out, sid)
		}
	}
	return out
}
