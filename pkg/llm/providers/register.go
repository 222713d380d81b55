// Package providers registers all built-in LLM provider factories.
//
// Import this package to register all provider factories with the global
// registry:
//
//	import _ "github.com/tombee/conductor/pkg/llm/providers"
//
// This registers factories but does not instantiate providers; call
// llm.Activate to instantiate one once configuration (an API key) is known.
package providers

import "github.com/tombee/conductor/pkg/llm"

func init() {
	llm.RegisterFactory("anthropic", NewAnthropicWithCredentials)
}
