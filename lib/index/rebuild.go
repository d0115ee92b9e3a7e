package index

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ValentinKolb/dDB/lib/lock"
	"golang.org/x/sync/errgroup"
)

// Rebuild clears the index and indexes every record of the tracked
// partitions. The exclusive lock is held for the whole scan, readers and
// writers block until it completes. The context is checked before every
// record; cancellation fails the rebuild like any other error.
func (ix *indexImpl) Rebuild(ctx context.Context, listener ProgressListener) (res Result, err error) {
	if listener == nil {
		listener = NopProgressListener{}
	}

	owner := lock.NewOwner()
	ix.lock.AcquireExclusive(owner)
	defer ix.lock.ReleaseExclusive(owner)

	if _, err := ix.loadedMap(); err != nil {
		return res, err
	}

	start := time.Now()
	partitions := slices.Clone(ix.partitions)
	fail := func(cause error) error {
		listener.OnCompletion(false)
		if cerr := ix.clear(owner); cerr != nil {
			log.Errorf("index %q: failed to reset after broken rebuild: %v", ix.name, cerr)
		}
		ix.stats.rebuildFailures.Inc(1)
		log.Errorf("index %q: rebuild failed after %d records: %v", ix.name, res.Scanned, cause)
		return &BuildError{Index: ix.name, Partitions: partitions, Scanned: res.Scanned, Err: cause}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fail(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := ix.clear(owner); err != nil {
		return res, fail(err)
	}

	total, err := ix.count(ctx, partitions)
	if err != nil {
		return res, fail(err)
	}
	listener.OnBegin(total)
	log.Infof("index %q: rebuilding from %d records in %v", ix.name, total, partitions)

	for _, partition := range partitions {
		for ref, err := range ix.opts.Source.Browse(partition) {
			if err != nil {
				return res, fail(err)
			}
			if err := ctx.Err(); err != nil {
				return res, fail(err)
			}

			if doc, ok := ref.(Document); ok {
				key, ok, err := ix.opts.Extractor(doc)
				if err != nil {
					return res, fail(fmt.Errorf("extract key of %s: %w", doc.Identity(), err))
				}
				if ok {
					if err := ix.put(owner, key, doc); err != nil {
						return res, fail(err)
					}
					res.Indexed++
				}
			}

			res.Scanned++
			listener.OnProgress(res.Scanned, percent(res.Scanned, total))
		}
	}

	if err := ix.lazySave(owner); err != nil {
		return res, fail(err)
	}
	listener.OnCompletion(true)

	res.Duration = time.Since(start)
	ix.stats.rebuilds.Update(res.Duration)
	log.Infof("index %q: rebuilt in %v, %d of %d records indexed", ix.name, res.Duration, res.Indexed, res.Scanned)
	return res, nil
}

// count sums the record counts of all partitions concurrently
func (ix *indexImpl) count(ctx context.Context, partitions []string) (int64, error) {
	counts := make([]int64, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range partitions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := ix.opts.Source.Count(p)
			if err != nil {
				return fmt.Errorf("count partition %q: %w", p, err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// percent of scanned in total, complete when there is nothing to scan
func percent(scanned, total int64) int {
	if total <= 0 {
		return 100
	}
	return int(min(scanned*100/total, 100))
}
