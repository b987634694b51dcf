// Package domain holds the records shared by the chat core and the error
// taxonomy every layer reports through.
package domain

import "errors"

// Sentinel errors for the chat core. Every one of them is reported to the
// originating client as an ErrorMessage frame carrying its Code.
var (
	ErrNameTaken          = errors.New("name is already taken")
	ErrUserNotFound       = errors.New("user not found")
	ErrChatNotFound       = errors.New("group chat not found")
	ErrGroupChatExists    = errors.New("group chat with this name already exists")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrMemberNotFound     = errors.New("member not found")
	ErrPersistenceFailure = errors.New("persistence failure")

	ErrNotJoined          = errors.New("join the chat first")
	ErrDeliveryFailed     = errors.New("message could not be delivered")
	ErrUserExists         = errors.New("user with this name already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNameTaken, "NameTaken"},
	{ErrUserNotFound, "UserNotFound"},
	{ErrChatNotFound, "ChatNotFound"},
	{ErrGroupChatExists, "GroupChatExists"},
	{ErrPermissionDenied, "PermissionDenied"},
	{ErrInvalidOperation, "InvalidOperation"},
	{ErrMemberNotFound, "MemberNotFound"},
	{ErrNotJoined, "NotJoined"},
	{ErrDeliveryFailed, "DeliveryFailed"},
	{ErrUserExists, "UserExists"},
	{ErrInvalidCredentials, "InvalidCredentials"},
	{ErrPersistenceFailure, "PersistenceFailure"},
}

// Code returns the wire code for err. Errors outside the taxonomy are
// reported as PersistenceFailure, since storage is the only collaborator
// able to produce them.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "PersistenceFailure"
}
