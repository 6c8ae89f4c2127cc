package learner

import (
	"sort"
	"strings"

	"github.com/sells-group/prospect-outreach/internal/model"
)

// Bucket dimensions.
const (
	DimIndustry = "industry"
	DimRegion   = "region"
	DimSize     = "size"
	DimScore    = "score"
)

// Bucket is one feature bucket and the samples that fall in it.
type Bucket struct {
	Dimension string
	Name      string
	Samples   []model.ConversionSample
}

// Key returns "dimension:name".
func (b Bucket) Key() string { return b.Dimension + ":" + b.Name }

// Conversions counts converted samples.
func (b Bucket) Conversions() int {
	n := 0
	for _, s := range b.Samples {
		if s.Converted {
			n++
		}
	}
	return n
}

// ObservedRate is the bucket's conversion rate.
func (b Bucket) ObservedRate() float64 {
	if len(b.Samples) == 0 {
		return 0
	}
	return float64(b.Conversions()) / float64(len(b.Samples))
}

// Bucketize groups samples by industry, region, company size and score
// range. Every sample lands in exactly one bucket per dimension. Buckets are
// returned sorted by key.
func Bucketize(samples []model.ConversionSample) []Bucket {
	index := map[string]*Bucket{}
	add := func(dim, name string, s model.ConversionSample) {
		key := dim + ":" + name
		b, ok := index[key]
		if !ok {
			b = &Bucket{Dimension: dim, Name: name}
			index[key] = b
		}
		b.Samples = append(b.Samples, s)
	}

	for _, s := range samples {
		add(DimIndustry, labelOrUnknown(s.Industry), s)
		add(DimRegion, labelOrUnknown(s.Region), s)
		add(DimSize, SizeRange(s.EmployeeCount), s)
		add(DimScore, ScoreRange(s.Score), s)
	}

	out := make([]Bucket, 0, len(index))
	for _, b := range index {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// SizeRange buckets an employee count.
func SizeRange(employees *int) string {
	if employees == nil || *employees <= 0 {
		return "unknown"
	}
	switch n := *employees; {
	case n < 10:
		return "1-10"
	case n < 50:
		return "10-50"
	case n < 100:
		return "50-100"
	case n < 200:
		return "100-200"
	default:
		return "200+"
	}
}

// ScoreRange buckets a 0-100 score.
func ScoreRange(score float64) string {
	switch {
	case score < 30:
		return "0-30"
	case score < 50:
		return "30-50"
	case score < 70:
		return "50-70"
	case score < 85:
		return "70-85"
	default:
		return "85-100"
	}
}

func labelOrUnknown(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
