package prompts

import _ "embed"

// Header opens every step prompt: the agent's role and ground rules.
//
//go:embed header.md
var Header string

// Footer closes every step prompt: the summary-marker contract the runner
// extracts against.
//
//go:embed footer.md
var Footer string
