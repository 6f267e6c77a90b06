// Package ports defines the registration workflow's boundaries to external
// collaborators: ownership verification, the minting ledger, manual proof
// storage and the audit trail.
package ports

//go:generate mockgen -source=verification.go -destination=mocks/verification.go -package=mocks VerificationPort
//go:generate mockgen -source=ledger.go -destination=mocks/ledger.go -package=mocks LedgerPort
//go:generate mockgen -source=proofs.go -destination=mocks/proofs.go -package=mocks ProofStore
//go:generate mockgen -source=audit.go -destination=mocks/audit.go -package=mocks AuditPublisher
