package domain

import "fmt"

// BucketName is one of the four fixed instrument groups.
type BucketName string

const (
	// BucketBenchmarks holds safe-haven reference instruments.
	BucketBenchmarks BucketName = "BENCHMARKS"
	// BucketCore holds the primary tactical instruments.
	BucketCore BucketName = "CORE"
	// BucketSpeculative holds the higher-beta satellite.
	BucketSpeculative BucketName = "SPECULATIVE"
	// BucketAsymmetric holds the high-variance satellite, funded conditionally.
	BucketAsymmetric BucketName = "ASYMMETRIC"
)

// BucketNames lists the buckets in their canonical order.
var BucketNames = []BucketName{BucketBenchmarks, BucketCore, BucketSpeculative, BucketAsymmetric}

// Bucket is a named set of unique instrument symbols.
type Bucket struct {
	Name    BucketName
	Symbols []string
}

// NewBucket builds a bucket, dropping empty and duplicate symbols while
// keeping first-seen order.
func NewBucket(name BucketName, symbols []string) Bucket {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return Bucket{Name: name, Symbols: out}
}

// Len returns the number of symbols
func (b Bucket) Len() int {
	return len(b.Symbols)
}

// Buckets is the full set of groups supplied for one run.
type Buckets struct {
	Benchmarks  Bucket
	Core        Bucket
	Speculative Bucket
	Asymmetric  Bucket
}

// NewBuckets builds Buckets from a name → symbols mapping. BENCHMARKS and
// CORE must be non-empty.
func NewBuckets(groups map[BucketName][]string) (Buckets, error) {
	b := Buckets{
		Benchmarks:  NewBucket(BucketBenchmarks, groups[BucketBenchmarks]),
		Core:        NewBucket(BucketCore, groups[BucketCore]),
		Speculative: NewBucket(BucketSpeculative, groups[BucketSpeculative]),
		Asymmetric:  NewBucket(BucketAsymmetric, groups[BucketAsymmetric]),
	}
	if b.Benchmarks.Len() == 0 {
		return Buckets{}, fmt.Errorf("bucket %s is empty", BucketBenchmarks)
	}
	if b.Core.Len() == 0 {
		return Buckets{}, fmt.Errorf("bucket %s is empty", BucketCore)
	}
	return b, nil
}

// Get returns the bucket by name
func (b Buckets) Get(name BucketName) Bucket {
	switch name {
	case BucketBenchmarks:
		return b.Benchmarks
	case BucketCore:
		return b.Core
	case BucketSpeculative:
		return b.Speculative
	case BucketAsymmetric:
		return b.Asymmetric
	}
	return Bucket{Name: name}
}

// AllSymbols returns every unique symbol across the buckets in canonical order.
func (b Buckets) AllSymbols() []string {
	var all []string
	for _, name := range BucketNames {
		all = append(all, b.Get(name).Symbols...)
	}
	return NewBucket("", all).Symbols
}
