package buildinfo

import (
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
		{name: "nil context", ctx: nil, want: UnknownValue},
		{name: "empty version", ctx: NewContext("", "2026-01-01"), want: UnknownValue},
		{name: "valid version", ctx: NewContext("1.2.0", "2026-01-01"), want: "1.2.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ctx.GetVersion())
		})
	}
}

func TestContextFormatting(t *testing.T) {
	t.Parallel()

	c := NewContext("1.2.0", "")
	assert.Equal(t, "unknown", c.GetBuildDate())
	assert.Equal(t, "trackmix@1.2.0", c.Release())
	assert.Equal(t, "1.2.0 (built unknown)", c.String())
}
