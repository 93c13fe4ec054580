// Package sysarch defines the synchronization substrate shared by the mesh
// stack worker, the IP stack side and application tasks.
//
// This package defines the contracts:
//   - Mailbox: bounded FIFO with blocking, non-blocking and interrupt-safe
//     producers and a leak-rather-than-corrupt teardown protocol
//   - Semaphore: binary and counting wait primitive
//   - Notifier: collapsible "wake the worker" signal
//   - Allocator: metered memory so out-of-memory is an ordinary error
//
// Interrupt context is modelled explicitly. Handlers run through [RunISR],
// which hands them an [InterruptContext]; only operations that accept one
// (TryPostFromISR, GiveFromISR, NotifyFromISR) may be called from a handler.
// Those operations never block and defer any task switch to the RunISR
// epilogue:
//
//	sysarch.RunISR(func(ic *sysarch.InterruptContext) {
//		_ = mbox.TryPostFromISR(ic, frame)
//		worker.NotifyFromISR(ic)
//	})
//
// Implementations live in internal/sysarch.
package sysarch
