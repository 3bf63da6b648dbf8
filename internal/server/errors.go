package server

import (
	"context"
	"errors"
	"strings"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/filestore"
	"github.com/Tyrowin/relaychat/internal/registry"
	"github.com/Tyrowin/relaychat/internal/relay"
)

var (
	errBadRequest      = errors.New("bad request")
	errRateLimited     = errors.New("rate limit exceeded")
	errAuthRequired    = errors.New("login required before choosing a nickname")
	errAuthDisabled    = errors.New("authentication is disabled")
	errFilesDisabled   = errors.New("file transfer is disabled")
	errNicknameMissing = errors.New("set a nickname before sending files")
)

// errorCode maps an error to the code carried by the error event.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, errNicknameMissing):
		return relay.CodeBadRequest
	case errors.Is(err, errRateLimited):
		return relay.CodeRateLimited
	case errors.Is(err, errAuthRequired):
		return relay.CodeAuthRequired
	case errors.Is(err, registry.ErrInvalidNickname):
		return relay.CodeInvalidNickname
	case errors.Is(err, registry.ErrNicknameTaken):
		return relay.CodeNicknameTaken
	case errors.Is(err, relay.ErrRecipientNotFound):
		return relay.CodeRecipientNotFound
	case errors.Is(err, filestore.ErrMalformedPayload), errors.Is(err, filestore.ErrInvalidName):
		return relay.CodeMalformedFile
	case errors.Is(err, filestore.ErrTooLarge):
		return relay.CodeFileTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return relay.CodeFileTimeout
	default:
		return relay.CodeInternal
	}
}

// errorNotice builds the error event payload. Internal errors are not
// described to the client.
func errorNotice(err error) relay.ErrorNotice {
	code := errorCode(err)
	if code == relay.CodeInternal {
		return relay.ErrorNotice{Code: code, Message: "internal server error"}
	}
	return relay.ErrorNotice{Code: code, Message: err.Error()}
}

// registrationMessage is the text of a registration_error reply.
func registrationMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrDuplicateUsername):
		return "Username already exists"
	case errors.Is(err, auth.ErrInvalidUsername):
		return "Invalid username"
	case errors.Is(err, auth.ErrInvalidPassword):
		return "Invalid password"
	case errors.Is(err, errAuthDisabled):
		return errAuthDisabled.Error()
	default:
		return "Registration failed"
	}
}

// loginBindMessage is the text of a login_error reply sent when the
// credentials were fine but the nickname could not be claimed.
func loginBindMessage(err error) string {
	if errors.Is(err, registry.ErrNicknameTaken) {
		return "User is already logged in"
	}
	return "Login failed"
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
