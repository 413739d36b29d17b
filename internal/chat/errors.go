// ABOUTME: Domain error taxonomy for chat operations
// ABOUTME: Sentinels map onto the authorization/validation/not-found surfaces

package chat

import "errors"

var (
	// ErrNotMember is returned when the caller holds no membership in the
	// target conversation.
	ErrNotMember = errors.New("not a member of conversation")

	// ErrNotSender is returned when a mutation is attempted by someone
	// other than the message's original sender.
	ErrNotSender = errors.New("not the message sender")

	// ErrValidation is returned for malformed or unresolvable input, such
	// as member IDs that reference no existing participant.
	ErrValidation = errors.New("validation failed")
)
