package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/casefile/internal/remote"
)

// Extractor is the slice of the remote client the pipeline needs.
type Extractor interface {
	ExtractEntities(ctx context.Context, text string, existing []remote.KnownEntity) (remote.ExtractResponse, error)
}

// ProgressFunc receives advisory progress lines while operations commit.
type ProgressFunc func(msg string)

// Pipeline turns unstructured text into committed entities and
// relationships. Network calls route through the remote client's long retry
// policy; entity/relationship writes through the EntityStore are the only
// durable effects.
type Pipeline struct {
	extractor Extractor
	store     EntityStore
}

// NewPipeline creates a Pipeline over the given extractor and store.
func NewPipeline(extractor Extractor, store EntityStore) *Pipeline {
	return &Pipeline{extractor: extractor, store: store}
}

// Extract sends text plus the currently known entities to the remote
// extractor and commits the returned operations. A call that creates no new
// entities is a valid outcome, not an error.
func (p *Pipeline) Extract(ctx context.Context, text string, onProgress ProgressFunc) (Result, error) {
	existing, err := p.store.AllEntities(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("loading existing entities: %w", err)
	}
	known := make([]remote.KnownEntity, len(existing))
	for i, e := range existing {
		known[i] = remote.KnownEntity{ID: e.ID, Type: string(e.Type), Label: e.Label}
	}

	resp, err := p.extractor.ExtractEntities(ctx, text, known)
	if err != nil {
		return Result{}, err
	}
	if !resp.Success {
		return Result{}, fmt.Errorf("extractor rejected input: %s", resp.Error)
	}

	var ops []Operation
	if len(resp.Operations) > 0 {
		if err := json.Unmarshal(resp.Operations, &ops); err != nil {
			return Result{}, fmt.Errorf("parsing operations: %w", err)
		}
	}

	result := Result{Operations: len(ops)}
	for i, op := range ops {
		if onProgress != nil {
			onProgress(fmt.Sprintf("Processing operation %d of %d", i+1, len(ops)))
		}
		if err := p.applyOperation(ctx, op, &result); err != nil {
			return result, fmt.Errorf("applying operation %d: %w", i+1, err)
		}
	}
	return result, nil
}

// applyOperation commits one operation. Entities resolve first, into a
// positional slice that keeps a nil slot for every draft that failed
// validation; connections then resolve against that slice only. The slice
// is local to this call and discarded afterwards; operation indices must
// never escape as identifiers.
func (p *Pipeline) applyOperation(ctx context.Context, op Operation, result *Result) error {
	if op.Action != "" && !strings.EqualFold(op.Action, "create") {
		slog.Debug("skipping unsupported operation action", "action", op.Action)
		result.Skipped += len(op.Entities)
		return nil
	}

	resolved := make([]*Entity, len(op.Entities))
	for i, draft := range op.Entities {
		typ := EntityType(strings.ToLower(strings.TrimSpace(draft.Type)))
		if !supportedTypes[typ] {
			slog.Debug("skipping entity with unsupported type", "type", draft.Type)
			result.Skipped++
			continue
		}
		label := labelOf(draft)
		if !validLabel(typ, label) {
			slog.Debug("skipping entity with generic label", "type", typ, "label", label)
			result.Skipped++
			continue
		}
		entity, err := p.store.CreateEntity(ctx, typ, label, draft.Properties)
		if err != nil {
			return fmt.Errorf("creating %s %q: %w", typ, label, err)
		}
		resolved[i] = &entity
		result.Created = append(result.Created, entity)
	}

	for _, conn := range op.Connections {
		if conn.From < 0 || conn.From >= len(resolved) || conn.To < 0 || conn.To >= len(resolved) {
			slog.Debug("skipping connection with out-of-range endpoint", "from", conn.From, "to", conn.To)
			continue
		}
		from, to := resolved[conn.From], resolved[conn.To]
		if from == nil || to == nil {
			continue
		}
		if err := p.store.AddRelationship(ctx, from.ID, to.ID, conn.Relationship); err != nil {
			return fmt.Errorf("relating %q to %q: %w", from.Label, to.Label, err)
		}
		result.Relationships++
	}
	return nil
}
