package approval

import "errors"

var (
	// ErrUnknownRequest is returned when an approval names a request_hash
	// this engine has no pending request for.
	ErrUnknownRequest = errors.New("approval: unknown request")

	// ErrRequestHashMismatch is returned when an approval's declared
	// request_hash does not match a recomputed hash of the stored request.
	ErrRequestHashMismatch = errors.New("approval: request_hash does not match request")

	// ErrExpectedSNMismatch is returned when an approval's expected_sn
	// disagrees with the one the request was submitted with.
	ErrExpectedSNMismatch = errors.New("approval: expected_sn mismatch")

	// ErrSignerNotAuthorized is returned when the approving signer is not
	// in get_signers(metadata, Approve) for the pinned governance version.
	ErrSignerNotAuthorized = errors.New("approval: signer not authorized to approve")
)
