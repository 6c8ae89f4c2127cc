package outreach

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/scoring"
)

// Draft is the rendered content for a new OutreachEmail.
type Draft struct {
	Subject  string
	Content  string
	Tier     Tier
	Language string
	Metadata map[string]any
}

// Composer turns a ranked prospect into a draft using the template set.
type Composer struct {
	templates  *TemplateSet
	senderName string
}

// NewComposer creates a Composer.
func NewComposer(ts *TemplateSet, senderName string) *Composer {
	return &Composer{templates: ts, senderName: senderName}
}

// Compose renders the draft for p, scored under modelVersion.
func (c *Composer) Compose(p model.RankedProspect, modelVersion int) (*Draft, error) {
	lang := "en"
	if strings.HasPrefix(strings.ToLower(p.Language), "fr") {
		lang = "fr"
	}
	tier := TierFor(p.Score)

	vars := map[string]any{
		"business_name": p.BusinessName,
		"website":       p.Website,
		"industry":      p.Industry,
		"region":        p.Region,
		"sender_name":   c.senderName,
		"score":         int(math.Round(p.Score)),
	}
	if p.HasEmail() {
		if name := ExtractContactName(*p.ContactEmail); name != "" {
			vars["contact_name"] = name
		}
	}
	if p.Industry == "" {
		delete(vars, "industry")
	}

	r, err := c.templates.Render(tier, lang, vars)
	if err != nil {
		return nil, eris.Wrapf(err, "compose: prospect %s", p.ID)
	}
	if r.Subject == "" || r.Body == "" {
		return nil, eris.Errorf("compose: prospect %s rendered an empty subject or body", p.ID)
	}

	return &Draft{
		Subject:  r.Subject,
		Content:  r.Body,
		Tier:     tier,
		Language: lang,
		Metadata: map[string]any{
			"score":         p.Score,
			"priority":      scoring.PriorityFor(p.Score),
			"model_version": modelVersion,
			"tier":          string(tier),
			"language":      lang,
			"industry":      p.Industry,
			"region":        p.Region,
		},
	}, nil
}
