// Package billing implements the subscription and billing lifecycle engine:
// trial policy, the subscription state machine, webhook reconciliation, and
// the expiry sweeper.
//
// The engine is gateway-agnostic at its core. Webhook payloads are verified
// and normalized into GatewayEvents at the ingress boundary; the Reconciler
// consumes those events with at-least-once, out-of-order delivery semantics,
// deduplicating by the gateway's payment id. All persistent state lives
// behind the Store interface, and every operation runs in a single store
// transaction so a recorded payment and its subscription transition commit
// or roll back together.
//
// Typical wiring:
//
//	store := pgstore.New(pool)
//	svc := billing.NewService(store, cfg,
//		billing.WithLogger(log),
//		billing.WithPublisher(publisher),
//	)
//	sweeper := billing.NewSweeper(svc)
//	go sweeper.Run(ctx)
//
// Domain events describing applied transitions are published after the
// owning transaction commits; a failed publish never affects billing state.
package billing
