// Package node runs a tessera peer: a tile store, the discovery graph it
// advertises into, and the gossip transport that connects it to other
// peers.
package node
