package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFieldKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Female (%)", "female_percent"},
		{"female_percent", "female_percent"},
		{"Primary Outcome", "primary_outcome"},
		{"  Sample   Size  ", "sample_size"},
		{"Año de publicación", "ano_de_publicacion"},
		{"R&D Spend", "r_and_d_spend"},
		{"Trial #", "trial_number"},
		{"Age >= 65", "age_gt_65"},
		{"2nd Author", "field_2nd_author"},
		{"Sample (n)", "sample_n"},
		{"CamelCase", "camelcase"},
		{"---", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFieldKey(tt.in))
		})
	}
}

func TestSanitizeFieldKey_Idempotent(t *testing.T) {
	for _, in := range []string{"Female (%)", "Año de publicación", "2nd Author", "R&D Spend"} {
		once := SanitizeFieldKey(in)
		assert.Equal(t, once, SanitizeFieldKey(once), in)
	}
}
