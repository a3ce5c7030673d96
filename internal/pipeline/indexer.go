// Package pipeline executes the crawl-to-index flow: fetch, extract,
// archive, and index under per-document atomicity.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lodestone-search/lodestone/internal/engine"
	"github.com/lodestone-search/lodestone/internal/metrics"
)

// Indexer owns the retract-then-write update unit. All mutations for one
// document identity serialize on a per-DocID lock, so concurrent updates
// to the same URL can never interleave their index writes.
type Indexer struct {
	store     engine.DocumentStore
	lexIndex  engine.LexicalIndex
	vecIndex  engine.VectorIndex
	embedder  engine.Embedder
	publisher engine.Publisher
	clock     engine.Clock
	topic     string
	logger    *zap.Logger

	locks sync.Map // docID -> *sync.Mutex
}

// NewIndexer creates an Indexer. Embedder and vector index may be nil for
// lexical-only operation; publisher may be nil to disable events.
func NewIndexer(store engine.DocumentStore, lexIndex engine.LexicalIndex,
	vecIndex engine.VectorIndex, embedder engine.Embedder,
	publisher engine.Publisher, clock engine.Clock, topic string,
	logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		store:     store,
		lexIndex:  lexIndex,
		vecIndex:  vecIndex,
		embedder:  embedder,
		publisher: publisher,
		clock:     clock,
		topic:     topic,
		logger:    logger,
	}
}

// Index upserts doc and replaces its index entries. The old postings are
// retracted before the new document lands, so a reader sees either the
// previous version in full or the new one, never a blend. On failure the
// prior committed version is restored in both indexes and the store; a
// failed state is recorded only when there was no prior version to keep.
func (ix *Indexer) Index(ctx context.Context, doc engine.Document) error {
	unlock := ix.lock(doc.DocID)
	defer unlock()

	prevDoc, err := ix.store.Get(ctx, doc.DocID)
	hadPrev := err == nil
	if err != nil && !errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("load prior %s: %w", doc.DocID, err)
	}

	prevPostings, err := ix.lexIndex.Retract(doc.DocID)
	if err != nil {
		return fmt.Errorf("retract %s: %w", doc.DocID, err)
	}
	var prevVector []float32
	var hadVector bool
	if ix.vecIndex != nil {
		prevVector, hadVector = ix.vecIndex.Delete(doc.DocID)
	}

	rollback := func() {
		if err := ix.lexIndex.Restore(doc.DocID, prevPostings); err != nil {
			ix.logger.Error("lexical rollback failed", zap.String("doc_id", doc.DocID), zap.Error(err))
		}
		if hadVector {
			if err := ix.vecIndex.Restore(doc.DocID, prevVector); err != nil {
				ix.logger.Error("vector rollback failed", zap.String("doc_id", doc.DocID), zap.Error(err))
			}
		}
		if hadPrev {
			if err := ix.store.Upsert(ctx, prevDoc); err != nil {
				ix.logger.Error("document rollback failed", zap.String("doc_id", doc.DocID), zap.Error(err))
			}
		}
	}

	fail := func() {
		rollback()
		if hadPrev {
			// The prior version stays committed; record the attempt only.
			metrics.ObserveDocument(string(engine.DocStateFailed))
			ix.publish(ctx, doc.DocID, doc.CrawlURI, engine.DocStateFailed)
			return
		}
		ix.markFailed(ctx, doc)
	}

	doc.State = engine.DocStateIndexed
	doc.IndexedAt = ix.clock.Now()
	if err := ix.store.Upsert(ctx, doc); err != nil {
		rollback()
		return fmt.Errorf("upsert %s: %w", doc.DocID, err)
	}

	if err := ix.lexIndex.Add(doc.DocID, indexText(doc)); err != nil {
		fail()
		return fmt.Errorf("index %s: %w", doc.DocID, err)
	}

	if ix.vecIndex != nil && ix.embedder != nil {
		vec, err := ix.embedder.Embed(ctx, indexText(doc))
		if err == nil {
			err = ix.vecIndex.Upsert(doc.DocID, vec)
		}
		if err != nil {
			// The lexical entry just written is part of this unit too.
			if _, retractErr := ix.lexIndex.Retract(doc.DocID); retractErr != nil {
				ix.logger.Error("lexical unwind failed", zap.String("doc_id", doc.DocID), zap.Error(retractErr))
			}
			fail()
			return fmt.Errorf("embed %s: %w", doc.DocID, err)
		}
	}

	metrics.ObserveDocument(string(engine.DocStateIndexed))
	metrics.SetIndexedDocuments(ix.lexIndex.DocCount())
	ix.publish(ctx, doc.DocID, doc.CrawlURI, engine.DocStateIndexed)
	return nil
}

// Delete removes the document and its index entries as one unit.
func (ix *Indexer) Delete(ctx context.Context, docID string) error {
	unlock := ix.lock(docID)
	defer unlock()

	doc, err := ix.store.Get(ctx, docID)
	if err != nil {
		return err
	}

	removed, err := ix.lexIndex.Retract(docID)
	if err != nil {
		return fmt.Errorf("retract %s: %w", docID, err)
	}
	var prevVector []float32
	var hadVector bool
	if ix.vecIndex != nil {
		prevVector, hadVector = ix.vecIndex.Delete(docID)
	}
	if err := ix.store.Delete(ctx, docID); err != nil {
		// Put the index entries back so the document stays searchable.
		if rerr := ix.lexIndex.Restore(docID, removed); rerr != nil {
			ix.logger.Error("lexical rollback failed", zap.String("doc_id", docID), zap.Error(rerr))
		}
		if hadVector {
			if rerr := ix.vecIndex.Restore(docID, prevVector); rerr != nil {
				ix.logger.Error("vector rollback failed", zap.String("doc_id", docID), zap.Error(rerr))
			}
		}
		return fmt.Errorf("delete %s: %w", docID, err)
	}

	metrics.SetIndexedDocuments(ix.lexIndex.DocCount())
	ix.publish(ctx, docID, doc.CrawlURI, engine.DocStateDeleted)
	return nil
}

// Save flushes index snapshots to disk.
func (ix *Indexer) Save() error {
	if err := ix.lexIndex.Save(); err != nil {
		return fmt.Errorf("save lexical index: %w", err)
	}
	if ix.vecIndex != nil {
		if err := ix.vecIndex.Save(); err != nil {
			return fmt.Errorf("save vector index: %w", err)
		}
	}
	return nil
}

// RecordFailure marks a document failed after a terminal pipeline error
// such as an extraction failure. Any live index entries are retracted so
// no posting points at a non-indexed document; a known prior version keeps
// its stored fields, only the state flips.
func (ix *Indexer) RecordFailure(ctx context.Context, doc engine.Document) {
	unlock := ix.lock(doc.DocID)
	defer unlock()

	if prev, err := ix.store.Get(ctx, doc.DocID); err == nil {
		doc = prev
	}
	if _, err := ix.lexIndex.Retract(doc.DocID); err != nil {
		ix.logger.Error("failure retract failed", zap.String("doc_id", doc.DocID), zap.Error(err))
	}
	if ix.vecIndex != nil {
		ix.vecIndex.Delete(doc.DocID)
	}
	metrics.SetIndexedDocuments(ix.lexIndex.DocCount())
	ix.markFailed(ctx, doc)
}

func (ix *Indexer) markFailed(ctx context.Context, doc engine.Document) {
	doc.State = engine.DocStateFailed
	if err := ix.store.Upsert(ctx, doc); err != nil {
		ix.logger.Error("mark failed state", zap.String("doc_id", doc.DocID), zap.Error(err))
	}
	metrics.ObserveDocument(string(engine.DocStateFailed))
	ix.publish(ctx, doc.DocID, doc.CrawlURI, engine.DocStateFailed)
}

func (ix *Indexer) publish(ctx context.Context, docID, crawlURI string, state engine.DocState) {
	if ix.publisher == nil || ix.topic == "" {
		return
	}
	event := engine.IndexEvent{DocID: docID, CrawlURI: crawlURI, State: state, At: ix.clock.Now()}
	if _, err := ix.publisher.Publish(ctx, ix.topic, event); err != nil {
		ix.logger.Warn("publish index event",
			zap.String("doc_id", docID),
			zap.String("state", string(state)),
			zap.Error(err),
		)
	}
}

func (ix *Indexer) lock(docID string) func() {
	v, _ := ix.locks.LoadOrStore(docID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// indexText is the token stream both indexes see for a document.
func indexText(doc engine.Document) string {
	if doc.Title == "" {
		return doc.Content
	}
	return doc.Title + " " + doc.Content
}
