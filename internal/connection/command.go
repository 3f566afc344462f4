package connection

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver"
)

// Status is the classified outcome of an admin command.
type Status int

const (
	StatusOK Status = iota
	StatusUnauthorized
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnauthorized:
		return "unauthorized"
	default:
		return "error"
	}
}

// Server error codes that mean the caller lacks authorization.
const (
	CodeUserNotFound         = 11
	CodeUnauthorized         = 13
	CodeAuthenticationFailed = 18
	CodeAtlasUnauthorized    = 8000
)

var unauthorizedCodes = []int{CodeUnauthorized, CodeAuthenticationFailed, CodeUserNotFound, CodeAtlasUnauthorized}

// CommandResult is either a decoded reply (StatusOK), an authorization
// rejection, or some other failure. Err is set for the last two.
type CommandResult struct {
	Status Status
	Doc    bson.M
	Err    error
}

// OK reports whether the command succeeded.
func (r CommandResult) OK() bool {
	return r.Status == StatusOK
}

// Unauthorized reports whether the command was rejected for lack of authorization.
func (r CommandResult) Unauthorized() bool {
	return r.Status == StatusUnauthorized
}

// NewResult classifies a command reply.
func NewResult(doc bson.M, err error) CommandResult {
	if err == nil {
		if doc == nil {
			doc = bson.M{}
		}
		return CommandResult{Status: StatusOK, Doc: doc}
	}
	if IsUnauthorized(err) {
		return CommandResult{Status: StatusUnauthorized, Err: err}
	}
	return CommandResult{Status: StatusError, Err: err}
}

// IsUnauthorized reports whether err carries one of the authorization error
// codes, either as a command error or as a failed authentication handshake.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		for _, code := range unauthorizedCodes {
			if se.HasErrorCode(code) {
				return true
			}
		}
	}
	var de driver.Error
	if errors.As(err, &de) {
		for _, code := range unauthorizedCodes {
			if int(de.Code) == code {
				return true
			}
		}
	}
	return false
}

// IsCommandNotFound reports whether the server does not know the command.
func IsCommandNotFound(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Code == 59 || ce.Name == "CommandNotFound"
	}
	return false
}

// Command builds a single-key admin command document.
func Command(name string) bson.D {
	return bson.D{{Key: name, Value: 1}}
}

// CommandName returns the first key of cmd.
func CommandName(cmd bson.D) string {
	if len(cmd) == 0 {
		return ""
	}
	return cmd[0].Key
}

func commandError(name string, err error) error {
	return fmt.Errorf("%s failed: %w", name, err)
}
