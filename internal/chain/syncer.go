package chain

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
)

// ProducerSource lists the producers currently registered on chain.
type ProducerSource interface {
	Producers(ctx context.Context) ([]domain.Producer, error)
}

// ProducerWriter persists producer registry entries.
type ProducerWriter interface {
	UpsertProducers(ctx context.Context, producers []domain.Producer) error
}

// Syncer copies the chain's producer list into the local registry so rating
// eligibility checks do not hit the chain for every target lookup.
type Syncer struct {
	source ProducerSource
	writer ProducerWriter
	logger *log.Logger
	now    func() time.Time
}

// NewSyncer constructs a Syncer.
func NewSyncer(source ProducerSource, writer ProducerWriter, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.Default()
	}
	return &Syncer{
		source: source,
		writer: writer,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sync fetches every producer and upserts it, flagging inactive ones rather
// than dropping them. It returns the number of producers written.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	producers, err := s.source.Producers(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch producers: %w", err)
	}

	syncedAt := s.now()
	active := 0
	for i := range producers {
		producers[i].SyncedAt = syncedAt
		if producers[i].Active {
			active++
		}
	}

	if err := s.writer.UpsertProducers(ctx, producers); err != nil {
		return 0, fmt.Errorf("store producers: %w", err)
	}
	s.logger.Printf("chain: synced %d producers (%d active)", len(producers), active)
	return len(producers), nil
}
