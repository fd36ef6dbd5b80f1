// Package llm provides agent backends.
//
// The factory creates a backend based on provider configuration:
//   - anthropic: Claude through the Messages API
//   - echo: deterministic local replies for development
package llm
