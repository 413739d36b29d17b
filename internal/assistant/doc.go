// Package assistant generates model replies for assistant conversations.
//
// The Bridge loads a recent role-tagged window of the conversation, calls
// the Engine, and persists the reply under the assistant participant. In
// whole mode the reply arrives as one message-created event; in streaming
// mode transient stream-chunk events are followed by a stream-end event
// carrying the persisted concatenation. Engine failures produce an apology
// message marked with error metadata instead of surfacing to the sender.
package assistant
