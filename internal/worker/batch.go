package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/reconcile/internal/logger"
	"github.com/ppiankov/reconcile/internal/pipeline"
)

// errNotProcessed marks sources skipped because the batch was cancelled
var errNotProcessed = errors.New("not processed")

// Scanner runs the receipt pipeline on one image source
type Scanner interface {
	Scan(ctx context.Context, source string) (*pipeline.Result, error)
}

// ScanJob scans one image source
type ScanJob struct {
	Index   int
	Source  string
	Scanner Scanner
	Timeout time.Duration
}

// Execute executes the scan job
func (j *ScanJob) Execute(ctx context.Context) Result {
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := j.Scanner.Scan(ctx, j.Source)

	return &ScanResult{
		Index:    j.Index,
		Source:   j.Source,
		Result:   result,
		Error:    err,
		Duration: time.Since(start),
	}
}

// ScanResult is the outcome of one scan job
type ScanResult struct {
	Index    int
	Source   string
	Result   *pipeline.Result
	Error    error
	Duration time.Duration
}

// GetError returns the error from the scan result
func (r *ScanResult) GetError() error {
	return r.Error
}

// BatchProcessor scans many image sources concurrently
type BatchProcessor struct {
	scanner     Scanner
	concurrency int
	queueSize   int
	timeout     time.Duration
	log         logger.Logger
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(scanner Scanner, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		scanner:     scanner,
		concurrency: concurrency,
		log:         logger.NewNoOpLogger(),
	}
}

// WithQueueSize sets the job queue buffer
func (b *BatchProcessor) WithQueueSize(n int) *BatchProcessor {
	b.queueSize = n
	return b
}

// WithTimeout bounds each scan
func (b *BatchProcessor) WithTimeout(d time.Duration) *BatchProcessor {
	b.timeout = d
	return b
}

// WithLogger sets the logger used for per-source outcomes
func (b *BatchProcessor) WithLogger(log logger.Logger) *BatchProcessor {
	if log != nil {
		b.log = log
	}
	return b
}

// ProcessSources scans every source and returns one result per source in
// input order. Sources left unscanned by cancellation carry ctx's error.
func (b *BatchProcessor) ProcessSources(ctx context.Context, sources []string) []*ScanResult {
	if len(sources) == 0 {
		return []*ScanResult{}
	}

	pool := NewPoolContext(ctx, b.concurrency, b.queueSize)
	pool.Start()

	for i, source := range sources {
		job := &ScanJob{
			Index:   i,
			Source:  source,
			Scanner: b.scanner,
			Timeout: b.timeout,
		}
		if !pool.Submit(job) {
			break
		}
	}

	ordered := make([]*ScanResult, len(sources))
	for _, r := range pool.Wait() {
		res := r.(*ScanResult)
		ordered[res.Index] = res
		b.logResult(res)
	}

	for i, res := range ordered {
		if res == nil {
			err := ctx.Err()
			if err == nil {
				err = errNotProcessed
			}
			ordered[i] = &ScanResult{Index: i, Source: sources[i], Error: err}
		}
	}

	return ordered
}

// ProcessFile reads sources from a file and processes them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*ScanResult, error) {
	sources, err := ReadSourcesFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read sources: %w", err)
	}

	return b.ProcessSources(ctx, sources), nil
}

func (b *BatchProcessor) logResult(res *ScanResult) {
	fields := map[string]interface{}{
		"source":   res.Source,
		"duration": res.Duration.String(),
	}
	if res.Error != nil {
		fields["error"] = res.Error.Error()
		b.log.Warn("batch scan failed", fields)
		return
	}
	fields["request_id"] = res.Result.RequestID
	fields["strategy"] = string(res.Result.Strategy)
	b.log.Info("batch scan completed", fields)
}

// Summarize counts successful and failed results
func Summarize(results []*ScanResult) (succeeded, failed int) {
	for _, r := range results {
		if r.Error != nil {
			failed++
		} else {
			succeeded++
		}
	}
	return succeeded, failed
}

// ReadSourcesFromFile reads image paths or URLs, one per line. Blank lines
// and # comments are skipped and repeated sources are kept once.
func ReadSourcesFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var sources []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			sources = append(sources, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return sources, nil
}
