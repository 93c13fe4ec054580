// Package mesh defines the contracts of the mesh protocol engine and its
// platform layer as seen by the bridge.
//
// The mesh stack is single-threaded: exactly one task, the bridge worker,
// runs it. Other tasks reach it only between bridge.Lock and bridge.Unlock
// (or through bridge.Call). The interfaces here are consumed, not
// implemented, by the bridge; internal/meshsim provides a simulated
// implementation for the binary and for tests.
//
//   - Stack: message allocation, send, tasklet processing and callbacks
//   - Message: an IPv6 datagram owned by the stack
//   - Platform: drivers polled by the worker each iteration
package mesh
