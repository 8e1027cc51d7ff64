// Package hub owns the hub's connection registry, topic index, and broadcast
// engine.
//
// Hub tracks every live connection and the two-way relation between
// connections and topic keys. Both maps are guarded by one coarse lock so the
// bidirectional invariant (a connection appears in a topic's subscriber set
// iff the topic key is in the connection's subscription set) holds at all
// times, including during disconnect.
//
// Broadcaster delivers marshaled envelopes to one connection, a topic's
// subscribers, a department, or everyone. Delivery is best-effort: a failed
// send is treated as proof the peer is gone and triggers full cleanup of
// that one connection without interrupting the rest of the fan-out.
//
// Topic keys are strings of the form "{kind}:{id}" with kind one of flight,
// aircraft, cargo, department.
package hub
