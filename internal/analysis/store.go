package analysis

import "context"

// Store persists analysis sessions. Implementations must be safe for
// concurrent use and must not retain or hand out aliased Session
// pointers across calls.
type Store interface {
	// Get returns the session with the given ID, or found=false.
	Get(ctx context.Context, id string) (s *Session, found bool, err error)

	// Put inserts or replaces a session by ID.
	Put(ctx context.Context, s *Session) error

	// List returns one page of the owner's sessions, newest first,
	// along with the total count for that owner. Implementations may
	// omit Messages from listed sessions.
	List(ctx context.Context, owner string, page, pageSize int) ([]*Session, int, error)

	// Delete removes a session. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error

	// AppendMessage appends a message to a session's conversation.
	AppendMessage(ctx context.Context, id string, msg Message) error
}
