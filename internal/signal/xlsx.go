package signal

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/prospect-outreach/internal/model"
)

// XLSXSource reads an operator-maintained prospect list. The first row holds
// column headers; recognized headers are matched case-insensitively.
type XLSXSource struct {
	path  string
	sheet string
}

// NewXLSXSource reads the named sheet of path, or the first sheet when empty.
func NewXLSXSource(path, sheet string) *XLSXSource {
	return &XLSXSource{path: path, sheet: sheet}
}

func (s *XLSXSource) Name() string { return "xlsx" }

func (s *XLSXSource) Discover(ctx context.Context, c Criteria) ([]model.Prospect, error) {
	f, err := xlsx.OpenFile(s.path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, err := s.getSheet(f)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	cols := headerIndex(rowToStrings(sheet.Rows[0]))
	if _, ok := cols["website"]; !ok {
		return nil, eris.New("xlsx: missing website column")
	}

	now := time.Now().UTC()
	var out []model.Prospect
	for _, row := range sheet.Rows[1:] {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}
		cells := rowToStrings(row)
		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(cells) {
				return ""
			}
			return strings.TrimSpace(cells[i])
		}

		industry, region := get("industry"), get("region")
		if !c.matches(industry, region) {
			continue
		}

		raw := RawSignals{
			FormURL:          get("form_url"),
			Industry:         industry,
			ResponseMinutes:  parseFloat(get("response_time_minutes")),
			SiteScore:        parseFloat(get("site_score")),
			HasAutoresponder: parseBool(get("has_autoresponder")),
		}
		raw.Tested = get("has_autoresponder") != "" || raw.ResponseMinutes != nil

		p := model.Prospect{
			BusinessName: get("business_name"),
			Website:      get("website"),
			ContactEmail: NormalizeEmail(get("contact_email")),
			Industry:     industry,
			Region:       region,
			Language:     normalizeLanguage(get("language")),
			Features:     Features(raw, c),
			Status:       model.ProspectNew,
			Source:       s.Name(),
			DiscoveredAt: now,
		}
		if n, err := strconv.Atoi(get("employee_count")); err == nil {
			p.EmployeeCount = &n
		}
		out = append(out, p)

		if c.MaxResults > 0 && len(out) >= c.MaxResults {
			break
		}
	}
	return out, nil
}

func (s *XLSXSource) getSheet(f *xlsx.File) (*xlsx.Sheet, error) {
	if s.sheet != "" {
		sheet, ok := f.Sheet[s.sheet]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", s.sheet)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
		if key != "" {
			idx[key] = i
		}
	}
	return idx
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "oui":
		return true
	}
	return false
}
