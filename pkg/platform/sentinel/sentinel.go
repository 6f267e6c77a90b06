// Package sentinel lists the infrastructure facts that stores, the ledger
// client and providers report. Services match them with errors.Is and
// translate them into domain errors; validation problems never use them.
package sentinel

import "errors"

var (
	// ErrNotFound: the registration, proof or instrument does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a concurrent writer won, or the key is already taken.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable: the backend could not answer in time or at all.
	ErrUnavailable = errors.New("unavailable")
)
