package archive

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"interaction-ingest/src/ingest"
	"interaction-ingest/src/logger"
)

// DefaultMaxSamples bounds the error samples kept in a Report.
const DefaultMaxSamples = 10

// Ingester processes one raw envelope.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte) ingest.Result
}

// FileError is a failed file and why.
type FileError struct {
	Path string
	Kind ingest.FailureKind
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Kind, e.Err)
}

// Report summarizes a batch.
type Report struct {
	Total       int
	Succeeded   int
	Failed      int
	NewMessages int
	Duplicates  int
	ByKind      map[ingest.FailureKind]int
	// Samples holds the first failures, up to the replayer's limit.
	Samples []FileError
}

func (r *Report) add(path string, res ingest.Result, maxSamples int) {
	r.Total++
	if res.OK() {
		r.Succeeded++
		if res.Outcome.MessageIsNew {
			r.NewMessages++
		} else {
			r.Duplicates++
		}
		return
	}
	r.Failed++
	if r.ByKind == nil {
		r.ByKind = make(map[ingest.FailureKind]int)
	}
	r.ByKind[res.Kind]++
	if len(r.Samples) < maxSamples {
		r.Samples = append(r.Samples, FileError{Path: path, Kind: res.Kind, Err: res.Err})
	}
}

// Replayer feeds archived files through an Ingester.
type Replayer struct {
	ingester   Ingester
	maxSamples int
	logger     logger.Logger
}

func NewReplayer(in Ingester, maxSamples int, log logger.Logger) *Replayer {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Replayer{ingester: in, maxSamples: maxSamples, logger: log}
}

// Replay ingests every *.json file under dir in name order. A failing file
// is counted and the batch continues. Cancelling ctx stops between files and
// returns the partial report with ctx's error.
func (r *Replayer) Replay(ctx context.Context, dir string) (Report, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return Report{}, err
	}
	r.logger.Info("[Replay] Found %d file(s) in %s", len(files), dir)

	var rep Report
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		r.ReplayFile(ctx, path, &rep)
		if (i+1)%500 == 0 {
			r.logger.Info("[Replay] Progress: %d/%d (%d failed)", i+1, len(files), rep.Failed)
		}
	}
	r.logger.Info("[Replay] Done: %d succeeded, %d failed, %d new, %d duplicate",
		rep.Succeeded, rep.Failed, rep.NewMessages, rep.Duplicates)
	return rep, nil
}

// ReplayFile ingests one file and adds its outcome to rep. Unreadable files
// count as unknown failures.
func (r *Replayer) ReplayFile(ctx context.Context, path string, rep *Report) ingest.Result {
	raw, err := os.ReadFile(path)
	if err != nil {
		res := ingest.Result{Kind: ingest.FailureUnknown, Err: fmt.Errorf("failed to read file: %w", err)}
		rep.add(path, res, r.maxSamples)
		return res
	}
	res := r.ingester.Ingest(ctx, raw)
	rep.add(path, res, r.maxSamples)
	if !res.OK() {
		r.logger.Debug("[Replay] %s failed (%s): %v", filepath.Base(path), res.Kind, res.Err)
	}
	return res
}

// ListFiles returns the *.json files under dir, recursively, sorted by name.
func ListFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isEnvelopeFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Slice(files, func(i, j int) bool {
		bi, bj := filepath.Base(files[i]), filepath.Base(files[j])
		if bi != bj {
			return bi < bj
		}
		return files[i] < files[j]
	})
	return files, nil
}

func isEnvelopeFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, ".")
}
