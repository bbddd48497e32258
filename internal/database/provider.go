package database

import (
	"context"
	"fmt"
)

// HNSWRebuilder is an interface for repositories that support HNSW index rebuilding
type HNSWRebuilder interface {
	// RebuildHNSW rebuilds the in-memory HNSW index
	RebuildHNSW(ctx context.Context) error
	// HNSWCount returns the number of items in the HNSW index
	HNSWCount() int
	// IsHNSWEnabled returns whether HNSW is enabled
	IsHNSWEnabled() bool
	// SaveHNSWIndex saves the current index to disk (if path configured)
	SaveHNSWIndex() error
}

var (
	postgresDetectionReader func() DetectionReader
	postgresDetectionWriter func() DetectionWriter
	postgresPersonWriter    func() PersonWriter
	postgresIdentityWriter  func() IdentityWriter
	postgresProposalWriter  func() ProposalWriter
	postgresDetectionHNSW   HNSWRebuilder // Singleton for detection HNSW rebuilding
	postgresInitialized     bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(
	detReader func() DetectionReader,
	detWriter func() DetectionWriter,
	personWriter func() PersonWriter,
	identityWriter func() IdentityWriter,
	proposalWriter func() ProposalWriter,
) {
	postgresDetectionReader = detReader
	postgresDetectionWriter = detWriter
	postgresPersonWriter = personWriter
	postgresIdentityWriter = identityWriter
	postgresProposalWriter = proposalWriter
	postgresInitialized = true
}

// RegisterDetectionHNSWRebuilder registers the HNSW rebuilder for the detection repository.
// This allows rebuilding the in-memory HNSW index without knowing the concrete type.
func RegisterDetectionHNSWRebuilder(rebuilder HNSWRebuilder) {
	postgresDetectionHNSW = rebuilder
}

// GetDetectionHNSWRebuilder returns the registered detection HNSW rebuilder, or nil if not registered.
func GetDetectionHNSWRebuilder() HNSWRebuilder {
	return postgresDetectionHNSW
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	return postgresInitialized
}

// GetDetectionReader returns a DetectionReader from the PostgreSQL backend
func GetDetectionReader(ctx context.Context) (DetectionReader, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresDetectionReader == nil {
		return nil, fmt.Errorf("PostgreSQL detection reader not registered")
	}
	return postgresDetectionReader(), nil
}

// GetDetectionWriter returns a DetectionWriter from the PostgreSQL backend
func GetDetectionWriter(ctx context.Context) (DetectionWriter, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresDetectionWriter == nil {
		return nil, fmt.Errorf("PostgreSQL detection writer not registered")
	}
	return postgresDetectionWriter(), nil
}

// GetPersonReader returns a PersonReader from the PostgreSQL backend
func GetPersonReader(ctx context.Context) (PersonReader, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresPersonWriter == nil {
		return nil, fmt.Errorf("PostgreSQL person writer not registered")
	}
	return postgresPersonWriter(), nil
}

// GetPersonWriter returns a PersonWriter from the PostgreSQL backend
func GetPersonWriter(ctx context.Context) (PersonWriter, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresPersonWriter == nil {
		return nil, fmt.Errorf("PostgreSQL person writer not registered")
	}
	return postgresPersonWriter(), nil
}

// GetIdentityReader returns an IdentityReader from the PostgreSQL backend
func GetIdentityReader(ctx context.Context) (IdentityReader, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresIdentityWriter == nil {
		return nil, fmt.Errorf("PostgreSQL identity writer not registered")
	}
	return postgresIdentityWriter(), nil
}

// GetIdentityWriter returns an IdentityWriter from the PostgreSQL backend
func GetIdentityWriter(ctx context.Context) (IdentityWriter, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresIdentityWriter == nil {
		return nil, fmt.Errorf("PostgreSQL identity writer not registered")
	}
	return postgresIdentityWriter(), nil
}

// GetProposalReader returns a ProposalReader from the PostgreSQL backend
func GetProposalReader(ctx context.Context) (ProposalReader, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresProposalWriter == nil {
		return nil, fmt.Errorf("PostgreSQL proposal writer not registered")
	}
	return postgresProposalWriter(), nil
}

// GetProposalWriter returns a ProposalWriter from the PostgreSQL backend
func GetProposalWriter(ctx context.Context) (ProposalWriter, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresProposalWriter == nil {
		return nil, fmt.Errorf("PostgreSQL proposal writer not registered")
	}
	return postgresProposalWriter(), nil
}
