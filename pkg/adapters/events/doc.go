// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams with consumer groups
//   - natsbus: NATS core pub/sub, optionally against an embedded server
//   - memory: In-process, synchronous delivery
package events
