// Package clients defines the backend completion client interface and its
// provider implementations.
package clients

import "context"

// Role tags a message in a completion request.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleModel  Role = "model"
)

// Image is an inline image payload attached to a user turn.
type Image struct {
	Mime string
	Data []byte
}

// Message is one turn of a completion request.
type Message struct {
	Role  Role
	Text  string
	Image *Image
}

// Client generates text from an ordered message list. Implementations return
// a classifiable error on failure; an empty reply with a nil error is treated
// as a failure by the caller.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}
