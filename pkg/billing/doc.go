// Package billing implements the recurring-charge core for paid subscriptions:
// lifecycle state management, charge scheduling, idempotent charge execution,
// and trial-to-paid conversion.
//
// The package owns the Subscription aggregate and its status transitions.
// Everything else (persistence, payment provider, invoicing, event
// publication, idempotency storage) is an interface port injected through
// service constructors, so the whole core can be exercised deterministically
// in tests with in-memory collaborators and a fixed clock.
//
// # Services
//
//   - SchedulingService: decides when a subscription is due and advances the
//     next-charge timestamp by a billing frequency with month-end clamping.
//   - LifecycleService: guarded status transitions with an append-only history
//     trail and best-effort domain events.
//   - ChargeService: executes at most one charge per subscription per billing
//     cycle, escalating to past_due after repeated failures.
//   - TrialConversionService: converts expired trials into active
//     subscriptions, charging paid tiers and short-circuiting the free tier.
//
// # Quick Start
//
//	store := billing.NewMemorySubscriptionStore()
//	history := billing.NewMemoryHistoryStore()
//	idem := billing.NewMemoryIdempotencyStore()
//
//	scheduling := billing.NewSchedulingService(store)
//	lifecycle := billing.NewLifecycleService(store, history, billing.DefaultCatalog())
//	charges := billing.NewChargeService(store, scheduling, lifecycle, payments, invoices, idem)
//	trials := billing.NewTrialConversionService(scheduling, charges, lifecycle)
//
//	report, err := charges.ProcessCharges(ctx, orgID)
//
// Production wiring uses the Postgres-backed stores, the Redis idempotency
// store and event channel, and the Paddle payment client provided by this
// package. See cmd/billingd for a complete worker.
package billing
