package diffstream

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/osm-engine/internal/osm"
	"github.com/MeKo-Tech/osm-engine/internal/overpass"
)

// orderedKinds fixes the (node, way, relation) document ordering spec.md
// §4.6 requires across the three concatenated queries.
var orderedKinds = []byte{'n', 'w', 'r'}

// Stream issues the three per-kind differential queries against area for
// everything that changed after 'after', spooling each to a temp file,
// and yields every osm.ObjectChange in (node, way, relation) then
// document order. The sequence is single-pass: each temp file is closed
// as soon as its iterator is exhausted.
func Stream(ctx context.Context, client *overpass.Client, logger *slog.Logger, area string, after time.Time) iter.Seq2[*osm.ObjectChange, error] {
	if logger == nil {
		logger = slog.Default()
	}
	return func(yield func(*osm.ObjectChange, error) bool) {
		for _, kindLetter := range orderedKinds {
			if !streamKind(ctx, client, logger, area, kindLetter, after, yield) {
				return
			}
		}
	}
}

func streamKind(ctx context.Context, client *overpass.Client, logger *slog.Logger, area string, kindLetter byte, after time.Time, yield func(*osm.ObjectChange, error) bool) bool {
	query, err := overpass.DifferentialFetchQuery(area, kindLetter, after)
	if err != nil {
		return yield(nil, fmt.Errorf("diffstream: building query: %w", err))
	}

	logger.Info("looking up differences", "area", area, "kind", string(kindLetter), "since", after)

	stream, err := client.RunQuery(ctx, query, true)
	if err != nil {
		return yield(nil, fmt.Errorf("diffstream: querying %c differences: %w", kindLetter, err))
	}
	defer stream.Close()

	return consume(stream, yield)
}

func consume(stream io.ReadCloser, yield func(*osm.ObjectChange, error) bool) bool {
	it := NewChangeIterator(stream)
	for {
		change, err := it.Next()
		if err == io.EOF {
			return true
		}
		if err != nil {
			return yield(nil, err)
		}
		if !yield(change, nil) {
			return false
		}
	}
}
