// Package chat holds the domain rules for conversations and messages.
//
// The Resolver creates conversations: it deduplicates member lists,
// downgrades two-party groups to direct conversations, resolves an
// existing direct conversation for a repeated pair, and pins assistant
// conversations to the seeded assistant participant.
//
// The Coordinator is the single mutation path for messages: create with
// broadcast, sender-only edit, and tombstone delete. For assistant
// conversations it hands the created message to the Bridge on a separate
// goroutine and never waits for the outcome.
package chat
