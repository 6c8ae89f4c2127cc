package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/store"
)

const defaultBatchSize = 200

// IngestStore is the persistence the ingester needs.
type IngestStore interface {
	UpsertProspects(ctx context.Context, prospects []model.Prospect) (int64, error)
	ListProspectsByWebsite(ctx context.Context, websites []string) ([]model.Prospect, error)
	ActiveModel(ctx context.Context) (*model.ScoringModel, error)
}

// Scorer scores stored prospects under a model.
type Scorer interface {
	ScoreBatch(ctx context.Context, prospects []model.Prospect, m *model.ScoringModel) ([]model.DynamicScore, error)
}

// IngestResult summarizes one ingest run.
type IngestResult struct {
	Source     string   `json:"source"`
	Discovered int      `json:"discovered"`
	Invalid    int      `json:"invalid"`
	Duplicates int      `json:"duplicates"`
	Upserted   int64    `json:"upserted"`
	Scored     int      `json:"scored"`
	Errors     []string `json:"errors,omitempty"`
}

// Ingester pulls candidates from a Source, stores them and scores them under
// the active model.
type Ingester struct {
	source    Source
	store     IngestStore
	scorer    Scorer
	batchSize int
	log       *zap.Logger
}

// NewIngester creates an Ingester.
func NewIngester(src Source, st IngestStore, scorer Scorer) *Ingester {
	return &Ingester{
		source:    src,
		store:     st,
		scorer:    scorer,
		batchSize: defaultBatchSize,
		log:       zap.L().With(zap.String("component", "ingest"), zap.String("source", src.Name())),
	}
}

// Run discovers, validates, dedupes, persists and scores candidates. Invalid
// rows and per-batch scoring failures are skipped and reported.
func (in *Ingester) Run(ctx context.Context, c Criteria) (*IngestResult, error) {
	found, err := in.source.Discover(ctx, c)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: discover from %s", in.source.Name())
	}
	res := &IngestResult{Source: in.source.Name(), Discovered: len(found)}

	seen := make(map[string]bool, len(found))
	valid := make([]model.Prospect, 0, len(found))
	for _, p := range found {
		p.Website = NormalizeWebsite(p.Website)
		if p.Website == "" || p.BusinessName == "" {
			res.Invalid++
			in.log.Debug("ingest: skipping invalid candidate", zap.String("business_name", p.BusinessName))
			continue
		}
		if seen[p.Website] {
			res.Duplicates++
			continue
		}
		seen[p.Website] = true
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		valid = append(valid, p)
	}

	active, err := in.store.ActiveModel(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrap(err, "ingest: load active model")
		}
		in.log.Warn("ingest: no active scoring model, prospects stored unscored")
		active = nil
	}

	for start := 0; start < len(valid); start += in.batchSize {
		end := min(start+in.batchSize, len(valid))
		batch := valid[start:end]

		n, err := in.store.UpsertProspects(ctx, batch)
		if err != nil {
			return res, eris.Wrapf(err, "ingest: upsert batch at %d", start)
		}
		res.Upserted += n

		if active == nil {
			continue
		}
		websites := make([]string, len(batch))
		for i, p := range batch {
			websites[i] = p.Website
		}
		stored, err := in.store.ListProspectsByWebsite(ctx, websites)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			in.log.Warn("ingest: reload batch failed", zap.Int("offset", start), zap.Error(err))
			continue
		}
		scores, err := in.scorer.ScoreBatch(ctx, stored, active)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			in.log.Warn("ingest: scoring batch failed", zap.Int("offset", start), zap.Error(err))
			continue
		}
		res.Scored += len(scores)
	}

	in.log.Info("ingest: complete",
		zap.Int("discovered", res.Discovered),
		zap.Int("invalid", res.Invalid),
		zap.Int("duplicates", res.Duplicates),
		zap.Int64("upserted", res.Upserted),
		zap.Int("scored", res.Scored),
	)
	return res, nil
}

// HandleJob runs an ingest_prospects job whose payload is a Criteria.
func (in *Ingester) HandleJob(ctx context.Context, job *model.QueueJob) (any, error) {
	var c Criteria
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &c); err != nil {
			return nil, eris.Wrap(err, "ingest: decode payload")
		}
	}
	return in.Run(ctx, c)
}
