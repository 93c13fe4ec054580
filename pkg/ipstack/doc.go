// Package ipstack defines the IP stack side of the mesh network interface.
//
// The IP stack runs on its own tasks. Its output path reaches the mesh stack
// only through the outbound packet queue in internal/netif; its input path
// is fed by the mesh receive callback on the bridge worker.
package ipstack
