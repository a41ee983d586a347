// Package scanner loads instrument buckets from the daily scanner's output file.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/aristath/portfolio-manager/internal/domain"
)

// legacyCoreKey is the name older scanner versions used for CORE
const legacyCoreKey = "TICKERS"

// ErrMissingBuckets is returned when the scan file has no dynamic_buckets
var ErrMissingBuckets = errors.New("scanner output missing dynamic_buckets")

// scanResults is the subset of the scanner output the manager reads
type scanResults struct {
	Timestamp      string              `json:"timestamp" yaml:"timestamp"`
	DynamicBuckets map[string][]string `json:"dynamic_buckets" yaml:"dynamic_buckets"`
}

// FileSource reads buckets from a scan results file.
// JSON is the scanner's format; .yaml/.yml files are accepted for hand-kept lists.
type FileSource struct {
	path   string
	maxAge time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

// NewFileSource creates a bucket source for path. A positive maxAge logs a
// warning when the file is older than that.
func NewFileSource(path string, maxAge time.Duration, log zerolog.Logger) *FileSource {
	return &FileSource{
		path:   path,
		maxAge: maxAge,
		now:    time.Now,
		log:    log.With().Str("component", "scanner").Logger(),
	}
}

// LoadBuckets reads and validates the bucket file
func (s *FileSource) LoadBuckets(ctx context.Context) (domain.Buckets, error) {
	if err := ctx.Err(); err != nil {
		return domain.Buckets{}, err
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Buckets{}, fmt.Errorf("scanner results not found at %s: %w", s.path, err)
		}
		return domain.Buckets{}, fmt.Errorf("failed to stat scanner results: %w", err)
	}
	if s.maxAge > 0 && s.now().Sub(info.ModTime()) > s.maxAge {
		s.log.Warn().
			Str("path", s.path).
			Time("modified", info.ModTime()).
			Msg("Scanner results are stale")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return domain.Buckets{}, fmt.Errorf("failed to read scanner results: %w", err)
	}

	var results scanResults
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &results)
	default:
		err = json.Unmarshal(data, &results)
	}
	if err != nil {
		return domain.Buckets{}, fmt.Errorf("failed to parse scanner results: %w", err)
	}
	if len(results.DynamicBuckets) == 0 {
		return domain.Buckets{}, ErrMissingBuckets
	}

	groups := make(map[domain.BucketName][]string, len(results.DynamicBuckets))
	for name, symbols := range results.DynamicBuckets {
		key := domain.BucketName(strings.ToUpper(name))
		if key == legacyCoreKey {
			// CORE wins when both keys are present
			if _, ok := results.DynamicBuckets[string(domain.BucketCore)]; ok {
				continue
			}
			key = domain.BucketCore
		}
		groups[key] = normalize(symbols)
	}

	buckets, err := domain.NewBuckets(groups)
	if err != nil {
		return domain.Buckets{}, fmt.Errorf("invalid scanner buckets: %w", err)
	}

	for _, name := range domain.BucketNames {
		s.log.Info().Str("bucket", string(name)).Int("tickers", buckets.Get(name).Len()).Msg("Loaded bucket")
	}
	return buckets, nil
}

func normalize(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}
