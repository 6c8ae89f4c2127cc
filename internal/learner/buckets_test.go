package learner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-outreach/internal/model"
)

func intPtr(n int) *int { return &n }

func TestSizeRange(t *testing.T) {
	tests := []struct {
		in   *int
		want string
	}{
		{nil, "unknown"},
		{intPtr(0), "unknown"},
		{intPtr(1), "1-10"},
		{intPtr(9), "1-10"},
		{intPtr(10), "10-50"},
		{intPtr(49), "10-50"},
		{intPtr(50), "50-100"},
		{intPtr(150), "100-200"},
		{intPtr(200), "200+"},
		{intPtr(5000), "200+"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SizeRange(tt.in))
	}
}

func TestScoreRange(t *testing.T) {
	assert.Equal(t, "0-30", ScoreRange(0))
	assert.Equal(t, "0-30", ScoreRange(29.9))
	assert.Equal(t, "30-50", ScoreRange(30))
	assert.Equal(t, "50-70", ScoreRange(69))
	assert.Equal(t, "70-85", ScoreRange(82))
	assert.Equal(t, "85-100", ScoreRange(85))
	assert.Equal(t, "85-100", ScoreRange(100))
}

func TestBucketize(t *testing.T) {
	samples := []model.ConversionSample{
		{Industry: "Plumbing", Region: "QC", EmployeeCount: intPtr(12), Score: 82, Converted: true},
		{Industry: " plumbing ", Region: "", EmployeeCount: nil, Score: 40},
	}
	buckets := Bucketize(samples)

	keys := make([]string, 0, len(buckets))
	sizes := map[string]int{}
	for _, b := range buckets {
		keys = append(keys, b.Key())
		sizes[b.Key()] = len(b.Samples)
	}
	assert.Equal(t, []string{
		"industry:plumbing",
		"region:qc",
		"region:unknown",
		"score:30-50",
		"score:70-85",
		"size:10-50",
		"size:unknown",
	}, keys)
	assert.Equal(t, 2, sizes["industry:plumbing"])

	require.NotEmpty(t, buckets)
	assert.Equal(t, 1, buckets[0].Conversions())
	assert.InDelta(t, 0.5, buckets[0].ObservedRate(), 1e-12)
	assert.Zero(t, Bucket{}.ObservedRate())
}
