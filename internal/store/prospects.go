package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/db"
	"github.com/sells-group/prospect-outreach/internal/model"
)

const prospectColumns = `id, business_name, website, contact_email, industry, region, language,
	employee_count, features, status, source, discovered_at, last_contacted_at`

// prospectColumnsP is prospectColumns qualified with the "p." alias.
const prospectColumnsP = `p.id, p.business_name, p.website, p.contact_email, p.industry, p.region, p.language,
	p.employee_count, p.features, p.status, p.source, p.discovered_at, p.last_contacted_at`

// eligibleWhere is shared by the eligibility queries. $1 is the cooldown
// cutoff and $2 the non-terminal email statuses.
const eligibleWhere = `(p.status = 'new' OR (p.status = 'rejected' AND p.last_contacted_at < $1))
	AND (p.last_contacted_at IS NULL OR p.last_contacted_at < $1)
	AND NOT EXISTS (
		SELECT 1 FROM outreach_emails e
		WHERE e.prospect_id = p.id AND e.status = ANY($2)
	)`

func scanProspect(row scanner, extra ...any) (*model.Prospect, error) {
	var (
		p        model.Prospect
		status   string
		features []byte
	)
	dest := []any{
		&p.ID, &p.BusinessName, &p.Website, &p.ContactEmail, &p.Industry, &p.Region, &p.Language,
		&p.EmployeeCount, &features, &status, &p.Source, &p.DiscoveredAt, &p.LastContactedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p.Status = model.ProspectStatus(status)
	if len(features) > 0 {
		if err := json.Unmarshal(features, &p.Features); err != nil {
			return nil, eris.Wrapf(err, "decode features for %s", p.ID)
		}
	}
	return &p, nil
}

func nonTerminalArgs() []string {
	out := make([]string, len(model.NonTerminal))
	for i, s := range model.NonTerminal {
		out[i] = string(s)
	}
	return out
}

// UpsertProspects inserts or refreshes prospects keyed by website. Status,
// discovery time and a known contact email survive the refresh.
func (s *PostgresStore) UpsertProspects(ctx context.Context, prospects []model.Prospect) (int64, error) {
	if len(prospects) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(prospects))
	for _, p := range prospects {
		features, err := json.Marshal(orEmpty(p.Features))
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: encode features for %s", p.Website)
		}
		status := p.Status
		if status == "" {
			status = model.ProspectNew
		}
		discovered := p.DiscoveredAt
		if discovered.IsZero() {
			discovered = time.Now().UTC()
		}
		rows = append(rows, []any{
			p.ID, p.BusinessName, p.Website, p.ContactEmail, p.Industry, p.Region, p.Language,
			p.EmployeeCount, features, string(status), p.Source, discovered,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "prospects",
		Columns: []string{
			"id", "business_name", "website", "contact_email", "industry", "region", "language",
			"employee_count", "features", "status", "source", "discovered_at",
		},
		ConflictKeys: []string{"website"},
		UpdateCols:   []string{"business_name", "industry", "region", "language", "employee_count", "features", "source"},
		KeepCols:     []string{"contact_email"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert prospects")
}

func orEmpty(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

// ListProspectsByWebsite returns the stored prospects for the given websites.
func (s *PostgresStore) ListProspectsByWebsite(ctx context.Context, websites []string) ([]model.Prospect, error) {
	if len(websites) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+prospectColumns+` FROM prospects WHERE website = ANY($1) ORDER BY discovered_at`,
		websites,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list prospects by website")
	}
	defer rows.Close()

	var out []model.Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan prospect")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list prospects by website")
}

func (s *PostgresStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	p, err := scanProspect(s.pool.QueryRow(ctx,
		`SELECT `+prospectColumns+` FROM prospects WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "postgres: get prospect %s", id)
	}
	return p, nil
}

// ListEligibleProspects returns eligible prospects scored under the filter's
// model version, highest score first, earliest discovery breaking ties.
func (s *PostgresStore) ListEligibleProspects(ctx context.Context, f EligibilityFilter) ([]model.RankedProspect, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+prospectColumnsP+`, ds.score
		FROM prospects p
		JOIN dynamic_scores ds ON ds.prospect_id = p.id AND ds.model_version = $3
		WHERE `+eligibleWhere+`
		ORDER BY ds.score DESC, p.discovered_at ASC
		LIMIT $4`,
		f.CooldownCutoff, nonTerminalArgs(), f.ModelVersion, f.Limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list eligible prospects")
	}
	defer rows.Close()

	var out []model.RankedProspect
	for rows.Next() {
		var score float64
		p, err := scanProspect(rows, &score)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan eligible prospect")
		}
		out = append(out, model.RankedProspect{Prospect: *p, Score: score})
	}
	return out, eris.Wrap(rows.Err(), "postgres: list eligible prospects")
}

// ListUnscoredEligible returns eligible prospects with no score under the
// filter's model version.
func (s *PostgresStore) ListUnscoredEligible(ctx context.Context, f EligibilityFilter) ([]model.Prospect, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+prospectColumnsP+`
		FROM prospects p
		WHERE `+eligibleWhere+`
		AND NOT EXISTS (
			SELECT 1 FROM dynamic_scores ds WHERE ds.prospect_id = p.id AND ds.model_version = $3
		)
		ORDER BY p.discovered_at ASC
		LIMIT $4`,
		f.CooldownCutoff, nonTerminalArgs(), f.ModelVersion, f.Limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unscored prospects")
	}
	defer rows.Close()

	var out []model.Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan unscored prospect")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list unscored prospects")
}

func (s *PostgresStore) EligibilityStats(ctx context.Context, f EligibilityFilter) (EligibilityStats, error) {
	var st EligibilityStats
	err := s.pool.QueryRow(ctx,
		`SELECT count(*), count(ds.prospect_id)
		FROM prospects p
		LEFT JOIN dynamic_scores ds ON ds.prospect_id = p.id AND ds.model_version = $3
		WHERE `+eligibleWhere,
		f.CooldownCutoff, nonTerminalArgs(), f.ModelVersion,
	).Scan(&st.Eligible, &st.Scored)
	return st, eris.Wrap(err, "postgres: eligibility stats")
}

// UpdateProspectStatus advances a prospect only along allowed transitions.
// It reports false when the prospect was not in a valid prior state.
func (s *PostgresStore) UpdateProspectStatus(ctx context.Context, id string, to model.ProspectStatus) (bool, error) {
	prior := model.PriorStatuses(to)
	from := make([]string, len(prior))
	for i, p := range prior {
		from[i] = string(p)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospects SET status = $1,
			last_contacted_at = CASE WHEN $1 IN ('contacted', 'rejected') THEN now() ELSE last_contacted_at END
		WHERE id = $2 AND status = ANY($3)`,
		string(to), id, from,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update prospect %s status", id)
	}
	return tag.RowsAffected() == 1, nil
}
