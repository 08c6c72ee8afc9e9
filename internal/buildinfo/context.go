// Package buildinfo contains build-time metadata separate from user configuration
package buildinfo

import "fmt"

// UnknownValue is reported for metadata that was not injected at build time
const UnknownValue = "unknown"

// Context contains build-time metadata that is not user-configurable.
// It is injected at startup through -ldflags and passed down explicitly.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string

	// Commit is the short Git commit hash
	Commit string
}

// NewContext creates build metadata
func NewContext(version, buildDate, commit string) *Context {
	return &Context{Version: version, BuildDate: buildDate, Commit: commit}
}

// GetVersion returns the version or UnknownValue
func (c *Context) GetVersion() string {
	if c == nil {
		return UnknownValue
	}
	return valueOr(c.Version)
}

// GetBuildDate returns the build date or UnknownValue
func (c *Context) GetBuildDate() string {
	if c == nil {
		return UnknownValue
	}
	return valueOr(c.BuildDate)
}

// GetCommit returns the commit hash or UnknownValue
func (c *Context) GetCommit() string {
	if c == nil {
		return UnknownValue
	}
	return valueOr(c.Commit)
}

// UserAgent is the User-Agent sent on outbound HTTP requests
func (c *Context) UserAgent() string {
	return "spotit-go/" + c.GetVersion()
}

// String implements fmt.Stringer
func (c *Context) String() string {
	return fmt.Sprintf("spotit-go %s (commit %s, built %s)", c.GetVersion(), c.GetCommit(), c.GetBuildDate())
}

func valueOr(v string) string {
	if v == "" {
		return UnknownValue
	}
	return v
}
