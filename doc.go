// Package redress implements the removal orchestration and verification
// engine: it drives personal-data findings located at data-broker sites
// through opt-out submission, confirmation, and long-term reappearance
// monitoring.
//
// # Core Concepts
//
// The engine is organized around a small set of concepts:
//
//   - Findings: PII records located at a broker by the external discovery
//     subsystem. Findings are referenced, never mutated, here.
//   - Attempts: one tracked effort to remove a finding via a specific
//     channel, owned by the dispatcher's state machine.
//   - Channels: the three removal delivery mechanisms a broker may
//     support: plain HTTP form, browser-driven form, or email opt-out.
//   - Verification: the confirmation step some brokers require before a
//     removal is considered final, closed manually or by a read-only
//     mailbox poller.
//   - Scheduling: recurring jobs that rescan, re-verify aged attempts,
//     and poll the mailbox without user interaction.
//
// # Getting Started
//
// Create an engine and submit a finding for removal:
//
//	eng, err := redress.New(
//	    redress.WithStore(store.NewMemory()),
//	    redress.WithRegistry(reg),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(context.Background())
//
//	handle, err := eng.Submit(ctx, f)
//
// The presentation layer observes progress by subscribing to the engine's
// event bus via Events(); it never reaches into dispatcher internals.
package redress
