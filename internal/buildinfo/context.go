// Package buildinfo holds build-time metadata injected with -ldflags, kept
// apart from user configuration.
package buildinfo

import (
	"runtime"
	"runtime/debug"
)

// UnknownValue is reported for metadata the build did not set.
const UnknownValue = "unknown"

// Context contains build-time metadata that is not user-configurable.
type Context struct {
	version   string
	buildDate string
}

// NewContext returns build metadata. When version is empty the module
// version recorded by the Go toolchain is used, if any.
func NewContext(version, buildDate string) *Context {
	if version == "" || version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	return &Context{version: version, buildDate: buildDate}
}

// Version returns the release version.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns when the binary was built.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// UserAgent identifies outbound requests, e.g. "cropscan/1.2.0 (linux/amd64)".
func (c *Context) UserAgent() string {
	return "cropscan/" + c.Version() + " (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}
