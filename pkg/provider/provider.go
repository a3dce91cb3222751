// Package provider defines the data provider collaborator boundary and an
// HTTP-backed implementation with retry and circuit breaker protection.
package provider

import (
	"context"

	"github.com/metrapark/facility-sync/pkg/facility"
)

// HealthSignal is the provider-reported health plus the total number of
// facility records currently available.
type HealthSignal struct {
	Healthy    bool `json:"healthy"`
	TotalCount int  `json:"total_count"`
}

// Provider is one external parking data source. Read must be safely
// callable concurrently with other page numbers. Check must be called
// before any Read.
type Provider interface {
	// Name identifies the provider in logs, metrics and persisted records.
	Name() string

	// OffersCurrentParking is the static gate: false means the provider is
	// skipped entirely for the run, without any remote calls.
	OffersCurrentParking() bool

	// Check reports provider health and the total record count.
	Check(ctx context.Context) (HealthSignal, error)

	// ReadSize is the page size used to plan pagination and request pages.
	ReadSize() int

	// Read fetches one page of facility records. Page numbers are 1-based.
	Read(ctx context.Context, pageNumber, pageSize int) ([]facility.Facility, error)
}
