// Package herald provides a notification-workflow execution engine.
// Given a trigger event (a workflow identifier, a recipient, and a
// payload), it materializes one job per workflow step, executes steps in
// order, and aggregates triggers that arrive inside a rolling digest
// window into a single batched execution.
//
// Herald is designed as a library, not a service. Import it, configure a
// store, register workflows and delivery providers, and trigger events:
//
//	e, err := engine.New(store,
//	    engine.WithConfig(cfg),
//	    engine.WithProvider(provider.NewGotify(baseURL, token)),
//	)
//	e.RegisterWorkflow(def)
//	res, err := e.Trigger(ctx, trigger.Request{...})
//
// # Architecture
//
// Herald follows a composable store pattern: each subsystem (job, dlq)
// defines its own store interface and a single backend implements all of
// them. The digest window resolver, the job runner state machine, and the
// next-job scheduler coordinate exclusively through atomic conditional
// store operations, so any number of process instances can share one
// backend without application-level locking.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package herald
