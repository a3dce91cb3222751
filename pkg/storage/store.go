// Package storage persists aggregated facility records.
package storage

import (
	"context"

	"github.com/metrapark/facility-sync/pkg/facility"
)

// Store is the persistence collaborator for a batch run. SaveAll writes one
// provider's batch; atomicity within the batch is the implementation's
// concern, not the orchestrator's.
type Store interface {
	SaveAll(ctx context.Context, records []facility.Facility) error
}
