package terms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseGrade(t *testing.T) {
	tests := []struct {
		raw   string
		want  int
		valid bool
	}{
		{raw: "", valid: false},
		{raw: "   ", valid: false},
		{raw: "0", valid: false},
		{raw: "1", want: 1, valid: true},
		{raw: "7", want: 7, valid: true},
		{raw: " 10 ", want: 10, valid: true},
		{raw: "11", want: 10, valid: true},
		{raw: "-3", want: 3, valid: true},
		{raw: "8a", want: 8, valid: true},
		{raw: "abc", valid: false},
		{raw: "99999999999999999999999", want: 10, valid: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseGrade(tt.raw)
			assert.Equal(t, tt.valid, ok)
			if tt.valid {
				assert.Equal(t, tt.want, got)
				assert.GreaterOrEqual(t, got, 1)
				assert.LessOrEqual(t, got, 10)
			}
		})
	}
}

func TestCleanGrades(t *testing.T) {
	got := CleanGrades(map[string]string{
		"s1": "8",
		"s2": "",
		"s3": "0",
		"s4": "12",
	})
	assert.Equal(t, map[string]int{"s1": 8, "s4": 10}, got)
	assert.NotNil(t, CleanGrades(nil))
}

func TestMergeGrades(t *testing.T) {
	persisted := map[string]int{"s1": 6, "s2": 7, "s3": 8}
	edits := map[string]string{"s1": "9", "s2": "", "s4": "5"}

	got := MergeGrades(persisted, edits)
	assert.Equal(t, map[string]int{"s1": 9, "s3": 8, "s4": 5}, got)
	// The stored map is left alone.
	assert.Equal(t, map[string]int{"s1": 6, "s2": 7, "s3": 8}, persisted)

	assert.Equal(t, persisted, MergeGrades(persisted, nil))
}
