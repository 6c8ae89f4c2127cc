package signal

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prospect-outreach/internal/model"
)

// SQLiteSchema is the crawler export layout read by SQLiteSource.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS prospect_candidates (
	website        TEXT PRIMARY KEY,
	business_name  TEXT NOT NULL,
	contact_email  TEXT,
	industry       TEXT,
	region         TEXT,
	language       TEXT,
	form_url       TEXT,
	employee_count INTEGER,
	site_score     REAL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS form_tests (
	id                    TEXT PRIMARY KEY,
	website               TEXT NOT NULL,
	test_submitted_at     DATETIME NOT NULL,
	response_time_minutes REAL,
	has_autoresponder     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_form_tests_website ON form_tests(website, test_submitted_at);
`

// SQLiteSource reads prospects from a crawler export database.
type SQLiteSource struct {
	db *sql.DB
}

// OpenSQLiteSource opens the export database at dsn.
func OpenSQLiteSource(dsn string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "signal: open sqlite")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "signal: sqlite busy_timeout")
	}
	return &SQLiteSource{db: db}, nil
}

func (s *SQLiteSource) Name() string { return "sqlite" }

func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// Discover returns candidates with their most recent form test.
func (s *SQLiteSource) Discover(ctx context.Context, c Criteria) ([]model.Prospect, error) {
	var (
		where []string
		args  []any
	)
	if len(c.Industries) > 0 {
		where = append(where, "lower(c.industry) IN ("+placeholders(len(c.Industries))+")")
		for _, v := range c.Industries {
			args = append(args, strings.ToLower(strings.TrimSpace(v)))
		}
	}
	if len(c.Regions) > 0 {
		where = append(where, "lower(c.region) IN ("+placeholders(len(c.Regions))+")")
		for _, v := range c.Regions {
			args = append(args, strings.ToLower(strings.TrimSpace(v)))
		}
	}

	q := `SELECT c.business_name, c.website, c.contact_email, c.industry, c.region, c.language,
		c.form_url, c.employee_count, c.site_score,
		t.id IS NOT NULL, COALESCE(t.has_autoresponder, 0), t.response_time_minutes
	FROM prospect_candidates c
	LEFT JOIN form_tests t ON t.id = (
		SELECT id FROM form_tests WHERE website = c.website ORDER BY test_submitted_at DESC LIMIT 1
	)`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY c.created_at, c.website"
	if c.MaxResults > 0 {
		q += " LIMIT ?"
		args = append(args, c.MaxResults)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "signal: query sqlite candidates")
	}
	defer rows.Close()

	now := time.Now().UTC()
	var out []model.Prospect
	for rows.Next() {
		var (
			name, website                          string
			email, industry, region, lang, formURL sql.NullString
			employees                              sql.NullInt64
			siteScore, responseMins                sql.NullFloat64
			tested, autoresponder                  bool
		)
		if err := rows.Scan(&name, &website, &email, &industry, &region, &lang,
			&formURL, &employees, &siteScore, &tested, &autoresponder, &responseMins); err != nil {
			return nil, eris.Wrap(err, "signal: scan sqlite candidate")
		}

		raw := RawSignals{
			FormURL:          formURL.String,
			Tested:           tested,
			HasAutoresponder: autoresponder,
			Industry:         industry.String,
		}
		if responseMins.Valid {
			raw.ResponseMinutes = &responseMins.Float64
		}
		if siteScore.Valid {
			raw.SiteScore = &siteScore.Float64
		}

		p := model.Prospect{
			BusinessName: strings.TrimSpace(name),
			Website:      website,
			ContactEmail: NormalizeEmail(email.String),
			Industry:     industry.String,
			Region:       region.String,
			Language:     normalizeLanguage(lang.String),
			Features:     Features(raw, c),
			Status:       model.ProspectNew,
			Source:       s.Name(),
			DiscoveredAt: now,
		}
		if employees.Valid {
			n := int(employees.Int64)
			p.EmployeeCount = &n
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "signal: iterate sqlite candidates")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
