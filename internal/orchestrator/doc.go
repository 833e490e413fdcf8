// Package orchestrator coordinates the lifecycle of main tasks and their
// sub-tasks.
//
// The Service ties the durable components together:
//   - Orchestration: decomposing a request into sub-tasks, selecting a model
//     and spawning workers (or returning manual spawn and bind instructions)
//   - Status: reconciling the task store against the progress ledger
//   - Session control: bind, abort, freeze, message injection and history
//   - Maintenance: the timeout detector and the reclamation scheduler
//
// The service never blocks waiting on a worker. Everything a worker does is
// observed later, through the ledger, a session-end notification or a scan.
//
// Example usage:
//
//	svc, err := orchestrator.New(orchestrator.RequiredConfig{
//		Store:    store,
//		Registry: reg,
//		Ledger:   ledger,
//	}, orchestrator.WithCapabilities(caps))
//	res, err := svc.Orchestrate(ctx, orchestrator.OrchestrateRequest{
//		Description:  "Add pagination to the list endpoint",
//		SubtaskCount: 3,
//	})
package orchestrator
