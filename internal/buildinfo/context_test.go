package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_Getters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                  string
		ctx                   *Context
		version, date, commit string
	}{
		{"nil context", nil, UnknownValue, UnknownValue, UnknownValue},
		{"empty fields", NewContext("", "", ""), UnknownValue, UnknownValue, UnknownValue},
		{"populated", NewContext("v1.2.0", "2026-10-01", "abc1234"), "v1.2.0", "2026-10-01", "abc1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.date, tt.ctx.GetBuildDate())
			assert.Equal(t, tt.commit, tt.ctx.GetCommit())
		})
	}
}

func TestContext_UserAgentAndString(t *testing.T) {
	t.Parallel()

	c := NewContext("v1.2.0", "2026-10-01", "abc1234")
	assert.Equal(t, "spotit-go/v1.2.0", c.UserAgent())
	assert.Equal(t, "spotit-go v1.2.0 (commit abc1234, built 2026-10-01)", c.String())

	var empty *Context
	assert.Equal(t, "spotit-go/unknown", empty.UserAgent())
}
