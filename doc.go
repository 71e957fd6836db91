// Package outbox provides guaranteed event delivery for background pipelines.
//
// Typical flow:
//  1. Within a business transaction, call Publisher.Publish with the transaction as Executor.
//  2. Run a Worker over the same Store. It lists due events, claims each one with a
//     conditional update and invokes the handler registered for its event type.
//  3. On success the event is COMPLETED. On failure it is rescheduled with exponential
//     backoff until its attempts are exhausted, then it is FAILED.
//  4. Run a Reclaimer to return events stranded in PROCESSING by crashed workers.
//
// Delivery is at-least-once: handlers should be idempotent where practical.
// SQL implementations live in the mysql, postgres and sqlite packages.
package outbox
