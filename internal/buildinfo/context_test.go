package buildinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  *Context
		want string
	}{
		{"nil context", nil, UnknownValue},
		{"release", NewContext("1.0.0", "2024-05-01"), "1.0.0"},
		{"pre-release tag", NewContext("1.0.0-beta.1", ""), "1.0.0-beta.1"},
		{"build metadata", NewContext("1.0.0+build.123", ""), "1.0.0+build.123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ctx.Version())
		})
	}
}

func TestContextBuildDate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, UnknownValue, (*Context)(nil).BuildDate())
	assert.Equal(t, UnknownValue, NewContext("1.0.0", "").BuildDate())
	assert.Equal(t, "2024-05-01T10:00:00Z", NewContext("1.0.0", "2024-05-01T10:00:00Z").BuildDate())
}

func TestUserAgent(t *testing.T) {
	t.Parallel()

	ua := NewContext("2.1.0", "").UserAgent()
	assert.Equal(t, "cropscan/2.1.0 ("+runtime.GOOS+"/"+runtime.GOARCH+")", ua)
}
