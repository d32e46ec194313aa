// Package dlq implements the dead letter queue: storage and replay for
// jobs whose delivery failed terminally.
package dlq
