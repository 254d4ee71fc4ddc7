package orchestrator

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/109isaque10/scraped/caching"
	"github.com/109isaque10/scraped/matching"
	"github.com/109isaque10/scraped/metrics"
	"github.com/109isaque10/scraped/types"
)

// CleanReport says what a clean pass removed from one key
type CleanReport struct {
	Key     types.MediaKey
	Kept    int
	Dropped map[matching.Reason]int
}

// TriggerClean re-validates the cached results of mediaID with the current matching
// rules. It never calls a source and never grows a record; a record left with no
// valid results is kept empty.
func (o *Orchestrator) TriggerClean(ctx context.Context, mediaID string, opts CleanOptions) error {
	_, err := o.Clean(ctx, mediaID, opts)
	return err
}

// Clean is TriggerClean returning what was dropped per key
func (o *Orchestrator) Clean(ctx context.Context, mediaID string, opts CleanOptions) ([]CleanReport, error) {
	info, err := o.lookup.Lookup(ctx, mediaID)
	if err != nil {
		return nil, errors.Wrap(err, "metadata lookup")
	}
	info.ID = mediaID

	targets, err := buildTargets(info)
	if err != nil {
		return nil, err
	}

	var reports []CleanReport
	for _, t := range targets {
		report, err := o.cleanTarget(ctx, t, opts)
		if err != nil {
			return reports, err
		}
		if report != nil {
			reports = append(reports, *report)
		}
	}
	return reports, nil
}

func (o *Orchestrator) cleanTarget(ctx context.Context, t target, opts CleanOptions) (*CleanReport, error) {
	rec, err := o.store.Record(ctx, t.key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	report := &CleanReport{Key: t.key, Dropped: make(map[matching.Reason]int)}
	kept := make([]types.ScrapeResult, 0, len(rec.Value))
	for _, r := range rec.Value {
		if reason := o.opts.Bounds.Evaluate(t.sc, t.titles, r); reason != matching.Accepted {
			report.Dropped[reason]++
			continue
		}
		kept = append(kept, r)
	}
	report.Kept = len(kept)

	if len(kept) == len(rec.Value) {
		if opts.BumpTimestamp {
			return report, errors.Wrapf(o.store.Touch(ctx, t.key), "bump %s", t.key)
		}
		return report, nil
	}

	if err := o.store.UpsertMerge(ctx, t.key, kept, caching.UpsertOptions{Replace: true, UpdateTimestamp: opts.BumpTimestamp}); err != nil {
		return nil, errors.Wrapf(err, "replace %s", t.key)
	}

	event := log.Info().Str("key", t.key.String()).Int("kept", len(kept)).Int("dropped", len(rec.Value)-len(kept))
	for reason, n := range report.Dropped {
		event = event.Int(string(reason), n)
		metrics.CleanerDropped.WithLabelValues(string(reason)).Add(float64(n))
	}
	event.Msg("🧹 Cleaned cached results")
	return report, nil
}
