// Package radiolink provides interfaces for the simulated radio link
// between bridge nodes.
//
// A real border router hands frames to an 802.15.4 radio. Here each node
// runs a small gRPC endpoint and a transmitted frame is a unary call to
// every connected peer:
//   - Peer: a remote node's radio endpoint
//   - Link: transmit, peer management and per-peer health
//
// Frames received from a peer are delivered to the node's platform as a
// receive interrupt, so the bridge sees the same path a hardware radio
// would drive.
//
// Example usage:
//
//	link, err := radiolink.NewGRPCLink(config, platform)
//	if err != nil {
//		return err
//	}
//	if err := link.Start(ctx); err != nil {
//		return err
//	}
//	defer link.Close()
//
//	err = link.Connect(ctx, peer)
package radiolink
