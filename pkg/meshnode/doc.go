// Package meshnode provides the interface of an assembled bridge node.
//
// A node wires together the pieces that make one border device:
//   - sysarch.Arch: primitives, allocator and critical section
//   - bridge.Bridge: the worker that owns the mesh stack
//   - netif.Netif: output queue, receive path and address tracking
//   - a radio, either an in-process loopback or the gRPC radio link
//   - diag.Journal: leak, send and receive failures
//
// Data flow:
//  1. the IP host sends a datagram, which netif enqueues and the worker drains
//  2. the mesh stack transmits it on the radio
//  3. the peer radio raises a receive interrupt that posts to a mailbox
//  4. the peer worker processes the frame and netif hands it to its host
//
// Example usage:
//
//	node, err := meshnode.New(meshnode.NewConfig("node-a"), meshnode.LoopbackRadio(medium))
//	if err != nil {
//		return err
//	}
//	if err := node.Start(ctx); err != nil {
//		return err
//	}
//	defer node.Close()
//
//	err = node.Send(ctx, datagram)
package meshnode
