package domain

import "fmt"

// Sentinel errors for the domain layer. Per-link and per-attachment
// failures wrap one of these so callers can classify with errors.Is.
var (
	// ErrNoContent means the embed API answered but reported no
	// resolvable post (deleted, suspended, or private).
	ErrNoContent = fmt.Errorf("no resolvable content")

	// ErrBadStatus marks a non-2xx HTTP response from the embed API or
	// an asset host.
	ErrBadStatus = fmt.Errorf("unexpected http status")

	// ErrMalformedPayload marks an embed API body that did not decode.
	ErrMalformedPayload = fmt.Errorf("malformed resolver payload")

	// ErrTooLarge marks an asset exceeding the homeserver's advertised
	// upload limit.
	ErrTooLarge = fmt.Errorf("asset exceeds upload limit")

	// ErrNoSession means no persisted session state exists; login is
	// required before running.
	ErrNoSession = fmt.Errorf("no stored session")

	// ErrAutojoinAbandoned means the invite retry sequence hit its
	// backoff ceiling without a successful join.
	ErrAutojoinAbandoned = fmt.Errorf("autojoin abandoned")
)
