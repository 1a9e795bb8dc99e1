package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIssuer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://canvas.instructure.com", "canvas.instructure.com"},
		{"http://canvas.instructure.com", "canvas.instructure.com"},
		{"https://canvas.instructure.com:443/", "canvas.instructure.com"},
		{"http://localhost:80", "localhost"},
		{"http://localhost:3000", "localhost:3000"},
		{"https://lms.example/tenant/a", "lms.example/tenant/a"},
		{"%zz", "%zz"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeIssuer(tt.in))
		})
	}
}

func TestParseLegacyPlatforms(t *testing.T) {
	assert.Empty(t, ParseLegacyPlatforms(""))
	assert.Empty(t, ParseLegacyPlatforms("{not json"))
	assert.Equal(t,
		map[string]string{"https://canvas.instructure.com": "10000000000001"},
		ParseLegacyPlatforms(`{"https://canvas.instructure.com":"10000000000001"}`))
}
