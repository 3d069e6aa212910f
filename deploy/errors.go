package deploy

import (
	"errors"
	"fmt"
	"time"
)

// Exit codes reported to the CI runner
const (
	ExitSuccess        = 0
	ExitConfiguration  = 1
	ExitAuthentication = 2
	ExitTransient      = 3
	ExitTimeout        = 4
	ExitBuildFailed    = 5
)

// ConfigurationError is bad or missing input. Fatal, never retried, and
// raised before any network call.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) ExitCode() int { return ExitConfiguration }

// AuthenticationError is a platform rejection of the credential. Fatal,
// never retried. The credential itself is never part of the message.
type AuthenticationError struct {
	Operation string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s: the platform rejected the API key", e.Operation)
}

func (e *AuthenticationError) ExitCode() int { return ExitAuthentication }

// TransientError is a network or 5xx failure that survived the retry budget
type TransientError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) ExitCode() int { return ExitTransient }

// TimeoutError means no terminal status arrived within the poll budget.
// The remote build may still be in progress; this reports, not assumes,
// failure.
type TimeoutError struct {
	Stage   string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for the %s to finish; it may still be running on the platform", e.Elapsed, e.Stage)
}

func (e *TimeoutError) ExitCode() int { return ExitTimeout }

// RemoteBuildFailure means the platform reports the build or its release
// command failed. Not a client-side bug.
type RemoteBuildFailure struct {
	Reason string
}

func (e *RemoteBuildFailure) Error() string {
	return "deploy failed on the platform: " + e.Reason
}

func (e *RemoteBuildFailure) ExitCode() int { return ExitBuildFailed }

type exitCoder interface {
	ExitCode() int
}

// ExitCode maps an error from Deploy onto the process exit code table.
// nil maps to success; errors outside the taxonomy map to the generic
// configuration code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return ExitConfiguration
}
