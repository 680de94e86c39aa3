// Package configs embeds the cpm.yaml project config template used by
// `cpectl config init`. Keeping it a //go:embed string rather than a
// hand-written string literal in cmd/cpectl/cmd/config.go means the
// template ships identically in source builds and binary releases.
package configs

import _ "embed"

// ProjectConfigTemplate is written to cpm.yaml by `cpectl config init`. It
// lists every config.Config field with its default value so a user can
// tune from a known-good starting point.
//
//go:embed cpm.example.yaml
var ProjectConfigTemplate string
