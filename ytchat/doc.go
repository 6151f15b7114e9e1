// Package ytchat ingests YouTube live chat by polling.
//
// Poller discovers the active broadcast's live chat, then requests message
// batches at the server-advertised cadence (clamped to a 5s floor), carrying
// an opaque continuation token between polls. Failures are classified in
// order: session ended (clean hand-off back to the stream watcher), quota or
// rate limit (fixed 5 minute cooldown, cursor preserved), and transient
// (15 second retry, cursor preserved). The watcher re-runs discovery every
// 60 seconds until a stream appears, backing off 6 hours on a quota error,
// with at most one watcher instance active at a time.
package ytchat
