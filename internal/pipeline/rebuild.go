package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/engine"
)

// Rebuild re-derives both indexes from the document store. Used after a
// snapshot is lost or when index layout changes. Failed and pending
// documents are skipped; each indexed document passes through the normal
// update unit so the usual atomicity rules hold.
func (ix *Indexer) Rebuild(ctx context.Context) (int, error) {
	docs, err := ix.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}

	rebuilt := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return rebuilt, err
		}
		if doc.State != engine.DocStateIndexed && doc.State != engine.DocStateStale {
			continue
		}
		if err := ix.Index(ctx, doc); err != nil {
			ix.logger.Error("rebuild index entry failed",
				zap.String("doc_id", doc.DocID),
				zap.Error(err),
			)
			continue
		}
		rebuilt++
	}
	return rebuilt, nil
}
