// Package outbox implements the transactional outbox: events are staged in
// the same database transaction as the business write, then drained to the
// broker by a polling dispatcher with a bounded retry budget.
package outbox
