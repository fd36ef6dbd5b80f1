// Package ports declares the interfaces the orchestration engine depends on.
//
// Adapters under pkg/adapters implement them; the application layer only
// sees these contracts.
package ports
