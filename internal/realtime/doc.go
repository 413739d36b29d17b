// Package realtime tracks live websocket connections and delivers events.
//
// # Architecture
//
// Three pieces, all process-local:
//
//   - Conn: One authenticated websocket with a buffered outbound queue.
//     The write pump owns the socket; slow clients drop frames instead of
//     blocking the sender.
//   - Registry: userID -> Conn. One connection per participant; a new
//     login supersedes and closes the old one. Unregister only removes
//     the exact connection it is handed, so a superseded session tearing
//     itself down cannot evict its replacement.
//   - Rooms: conversationID -> joined connections. Membership in storage
//     and presence in a room are distinct: a member who never joined the
//     room receives no events and resynchronizes over REST.
//
// # Events
//
// EventKind is a closed enumeration. Each kind maps to exactly one wire
// name and a typed payload; frames serialize as {"event": ..., "data": ...}.
//
// Delivery is best effort and at-most-once. There is no replay for
// offline participants and no cross-process fan-out.
package realtime
