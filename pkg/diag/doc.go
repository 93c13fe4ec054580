// Package diag defines the diagnostic journal.
//
// Conditions that are handled internally rather than returned to a caller
// (a mailbox leaked at teardown, a mesh send that failed and was dropped, an
// outbound packet refused for lack of memory, a receive that could not be
// handed to the IP stack) are logged and also appended here, so tests and
// operators can query them after the fact.
//
// Example usage:
//
//	var rec diag.Recorder = journal
//	rec.Record(diag.KindSendFailed, "mesh send failed", map[string]string{
//		"error": err.Error(),
//	})
//
//	entries, err := journal.Read(ctx, diag.KindSendFailed, 0, 10)
//
// The in-memory implementation lives in internal/diag.
package diag
