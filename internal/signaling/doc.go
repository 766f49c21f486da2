// Package signaling exposes the coordinator over a WebSocket endpoint.
//
// Every socket is greeted with its ConnectionID. Peers then register,
// request streams and exchange SDP and ICE candidates as JSON frames; the
// Hub fans coordinator events back out to the open sockets.
package signaling
