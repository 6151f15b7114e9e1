// Package chat maintains the persistent Twitch IRC connection.
//
// Client owns one authenticated chat connection to a named channel and runs
// the connect/auth/read state machine: validate the credential (rejection is
// terminal), dial over TLS, send PASS/NICK/CAP REQ/JOIN, then read lines
// until the peer drops. Transient failures trigger reconnection with an
// exponential backoff that resets on every successful connect; there is no
// attempt limit, the loop runs until Stop. A 30s read timeout sends a
// protocol PING instead of failing the read; three consecutive timeouts
// without traffic count as connection loss.
//
// Every chat line is decoded by ParseLine and forwarded to the dispatcher in
// receive order. Protocol control lines (PING/PONG, auth-failure notices,
// welcome numerics) are handled internally and never surface as chat events.
package chat
