package rest

import "fmt"

// AuthError means the server rejected credentials or a token, or an
// authenticated call was attempted without a token. The message is safe to
// show to the user.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// FetchError is a transport-level failure on a one-shot request: connection
// refused, timeout, malformed response. The cached client state must not be
// touched when one occurs.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// LobbyError is a lobby action the server refused, e.g. joining a full lobby.
// The message comes from the server and is user-displayable.
type LobbyError struct {
	Message string
}

func (e *LobbyError) Error() string { return e.Message }
