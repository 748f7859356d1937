// Package scanerr classifies the error kinds a scan can return, per the
// error-handling design in spec.md §7. Grounded on spdk-core/src/error.rs's
// enum-of-kinds shape, rendered as Go sentinel errors so callers can branch
// with errors.Is instead of matching on a closed enum.
package scanerr

import "errors"

var (
	// ErrInvalidRange is returned when start > end or a height falls
	// outside the consensus range. Fatal; the scan never begins.
	ErrInvalidRange = errors.New("scanerr: invalid height range")

	// ErrTransport wraps a network or HTTP failure for a single height.
	// Current policy (spec.md §7): fatal to the scan.
	ErrTransport = errors.New("scanerr: transport failure")

	// ErrDecode wraps a malformed server response.
	ErrDecode = errors.New("scanerr: malformed response")

	// ErrFilterError wraps a BIP-158 match failure from corrupted filter
	// bytes. Fatal for that block; propagated like ErrTransport.
	ErrFilterError = errors.New("scanerr: filter match failure")

	// ErrSinkError wraps a persistence failure. Fatal; the scan returns.
	ErrSinkError = errors.New("scanerr: progress sink failure")

	// ErrCancelled is not a failure: normal early termination requested
	// via the shared cancellation flag.
	ErrCancelled = errors.New("scanerr: scan cancelled")

	// ErrKeyDerivation wraps a failure deriving wallet key material from
	// a mnemonic (invalid mnemonic, unsupported network, curve failure).
	ErrKeyDerivation = errors.New("scanerr: key derivation failure")
)

// CurveError counts skipped tweak/index pairs rather than failing the
// scan; per spec.md §4.1 it is never fatal, so there is no sentinel for it
// here — see internal/keyderivation.Stats.Skipped.
