// Package config loads AgentMesh settings from environment variables.
//
// Backends are chosen with STORAGE_BACKEND (memory, redis, sqlite) and
// EVENT_BACKEND (memory, redis, nats). The static agent roster comes from
// AGENTS, a comma-separated list of "id" or "id:cap1|cap2" entries.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	roster, _ := cfg.AgentRoster()
//	fmt.Printf("serving %d agents on %s\n", len(roster), cfg.GetHTTPAddr())
package config
