package domain

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	dErrors "ipx/pkg/domain-errors"
)

// RegistrationID identifies one registration attempt.
type RegistrationID uuid.UUID

// PrincipalID is the opaque principal identifier handed out by the identity
// provider. It is never interpreted, only compared.
type PrincipalID string

// InstrumentID is the identifier the ledger issues for a minted instrument.
type InstrumentID string

const maxPrincipalLength = 128

// NewRegistrationID returns a fresh random registration identifier.
func NewRegistrationID() RegistrationID {
	return RegistrationID(uuid.New())
}

// ParseRegistrationID parses a registration identifier at a trust boundary.
// Empty, malformed and nil UUIDs are rejected.
func ParseRegistrationID(s string) (RegistrationID, error) {
	if strings.TrimSpace(s) == "" {
		return RegistrationID{}, dErrors.New(dErrors.CodeInvalidInput, "registration id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return RegistrationID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid registration id")
	}
	if parsed == uuid.Nil {
		return RegistrationID{}, dErrors.New(dErrors.CodeInvalidInput, "registration id cannot be nil")
	}
	return RegistrationID(parsed), nil
}

func (id RegistrationID) String() string {
	return uuid.UUID(id).String()
}

func (id RegistrationID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText keeps registration ids readable in JSON payloads.
func (id RegistrationID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *RegistrationID) UnmarshalText(b []byte) error {
	parsed, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = RegistrationID(parsed)
	return nil
}

// ParsePrincipalID validates a principal identifier coming from the identity
// provider.
func ParsePrincipalID(s string) (PrincipalID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "principal id is required")
	}
	if len(s) > maxPrincipalLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "principal id is too long")
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "principal id contains invalid characters")
		}
	}
	return PrincipalID(s), nil
}

func (p PrincipalID) String() string {
	return string(p)
}

func (p PrincipalID) IsNil() bool {
	return p == ""
}

func (i InstrumentID) String() string {
	return string(i)
}
