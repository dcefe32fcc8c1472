// Package signaling implements an Ayame protocol rendezvous server.
//
// Two peers register into a named room over WebSocket, then exchange SDP
// offers/answers and ICE candidates through the server. The Hub owns the room
// and connection tables; each registered socket is represented by a Connection
// that forwards protocol messages to its peer and is kept alive by a ping/pong
// monitor.
package signaling
