// Package archive writes reclaimed markets to cold storage before their records
// are deleted.
package archive

import (
	"context"
	"time"

	"github.com/mselser95/parimutuel/pkg/types"
)

// Snapshot is the final state of a market at reclamation.
type Snapshot struct {
	Market         *types.Market          `json:"market"`
	Participations []*types.Participation `json:"participations"`
	Swept          uint64                 `json:"swept"` // dust returned to the creator
	ArchivedAt     time.Time              `json:"archived_at"`
}

// Archiver persists snapshots. Archive must be durable before it returns nil.
type Archiver interface {
	Archive(ctx context.Context, s *Snapshot) error
}

// ObjectKey is the key a market snapshot is stored under.
func ObjectKey(marketID string) string {
	return "markets/" + marketID + ".json"
}
