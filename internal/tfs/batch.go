package tfs

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/danielolaszy/qadash/pkg/models"
)

// BatchSize is the maximum number of IDs the workitemsbatch API accepts per request.
const BatchSize = 200

// BatchResult holds the work items fetched by GetWorkItemsByIDs.
type BatchResult struct {
	// Items are the fetched work items, concatenated in chunk order
	Items []models.WorkItem

	// FailedIDs are the IDs belonging to chunks that could not be fetched
	FailedIDs []int
}

// Partial reports whether any chunk failed.
func (r BatchResult) Partial() bool {
	return len(r.FailedIDs) > 0
}

// GetWorkItemsByIDs fetches work items in chunks of BatchSize, optionally
// expanding relations. Chunks are fetched concurrently. A chunk that fails is
// logged and skipped, and its IDs are reported in FailedIDs; only a cancelled
// context aborts the whole fetch.
func (c *Client) GetWorkItemsByIDs(ctx context.Context, ids []int, expandRelations bool) (BatchResult, error) {
	chunks := Chunk(dedupe(ids), BatchSize)
	if len(chunks) == 0 {
		return BatchResult{}, nil
	}

	results := make([][]models.WorkItem, len(chunks))
	failed := make([]bool, len(chunks))

	var g errgroup.Group
	g.SetLimit(c.batchConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			items, err := c.getBatch(ctx, chunk, expandRelations)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				c.logger.Warn("skipping failed work item chunk",
					"chunk", i,
					"chunk_size", len(chunk),
					"first_id", chunk[0],
					"error", err)
				failed[i] = true
				return nil
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, fmt.Errorf("failed to fetch work items: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return BatchResult{}, fmt.Errorf("failed to fetch work items: %w", err)
	}

	var result BatchResult
	for i, items := range results {
		if failed[i] {
			result.FailedIDs = append(result.FailedIDs, chunks[i]...)
			continue
		}
		result.Items = append(result.Items, items...)
	}

	c.logger.Debug("fetched work items",
		"requested", len(ids),
		"fetched", len(result.Items),
		"failed", len(result.FailedIDs),
		"chunks", len(chunks))

	return result, nil
}

// Chunk splits ids into consecutive slices of at most size elements.
func Chunk(ids []int, size int) [][]int {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	chunks := make([][]int, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func dedupe(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
