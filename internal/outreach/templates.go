// Package outreach drafts and sends prospect emails: templates, contact
// name extraction, MIME construction, provider clients and the send_email
// job handler.
package outreach

import (
	"os"
	"strings"
	"sync"

	"github.com/osteele/liquid"
	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Tier selects a template family by score.
type Tier string

const (
	TierUrgent   Tier = "urgent"
	TierHigh     Tier = "high"
	TierStandard Tier = "standard"
)

// TierFor maps a 0-100 score to a template tier.
func TierFor(score float64) Tier {
	switch {
	case score >= 85:
		return TierUrgent
	case score >= 70:
		return TierHigh
	default:
		return TierStandard
	}
}

// Template is one subject/body pair. Both are Liquid sources.
type Template struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// Rendered is a template after variable substitution.
type Rendered struct {
	Subject string
	Body    string
}

// templateFile is the on-disk layout: tier -> language -> template.
type templateFile struct {
	Templates map[Tier]map[string]Template `yaml:"templates"`
}

// TemplateSet renders tiered, per-language outreach templates.
type TemplateSet struct {
	engine    *liquid.Engine
	templates map[Tier]map[string]Template
	cache     sync.Map // map[string]*liquid.Template
}

const defaultTemplatesYAML = `
templates:
  urgent:
    en:
      subject: "{{ business_name }}: customers waiting on replies?"
      body: |
        Hi {{ contact_name | default: "there" }},

        We tested the contact form on {{ website }} and did not hear back. Every unanswered enquiry is a customer who may have gone elsewhere.

        We set up automatic replies and follow-ups for {{ industry | default: "local" }} businesses in a few days. Would a short call this week work?

        {{ sender_name }}
    fr:
      subject: "{{ business_name }} : des clients sans réponse ?"
      body: |
        Bonjour{% if contact_name %} {{ contact_name }}{% endif %},

        Nous avons testé le formulaire de contact de {{ website }} sans recevoir de réponse. Chaque demande sans suite est un client qui risque de partir ailleurs.

        Nous mettons en place des réponses et relances automatiques en quelques jours. Seriez-vous disponible pour un court appel cette semaine ?

        {{ sender_name }}
  high:
    en:
      subject: "Faster replies for {{ business_name }}"
      body: |
        Hi {{ contact_name | default: "there" }},

        Enquiries sent through {{ website }} take a while to get an answer. We help businesses like yours reply within minutes, automatically.

        Happy to show you how in 15 minutes.

        {{ sender_name }}
    fr:
      subject: "Des réponses plus rapides pour {{ business_name }}"
      body: |
        Bonjour{% if contact_name %} {{ contact_name }}{% endif %},

        Les demandes envoyées via {{ website }} attendent longtemps avant une réponse. Nous aidons les entreprises comme la vôtre à répondre en quelques minutes, automatiquement.

        Je vous le montre volontiers en 15 minutes.

        {{ sender_name }}
  standard:
    en:
      subject: "A question about {{ business_name }}"
      body: |
        Hi {{ contact_name | default: "there" }},

        We help {{ industry | default: "small" }} businesses automate their customer follow-up. Would it be useful to compare notes on how {{ business_name }} handles new enquiries?

        {{ sender_name }}
    fr:
      subject: "Une question pour {{ business_name }}"
      body: |
        Bonjour{% if contact_name %} {{ contact_name }}{% endif %},

        Nous aidons les entreprises à automatiser le suivi de leurs clients. Serait-il utile d'échanger sur la façon dont {{ business_name }} traite les nouvelles demandes ?

        {{ sender_name }}
`

// DefaultTemplates returns the built-in template set.
func DefaultTemplates() *TemplateSet {
	ts, err := ParseTemplates([]byte(defaultTemplatesYAML))
	if err != nil {
		panic(err)
	}
	return ts
}

// LoadTemplates reads a template file, or returns the built-in set when path
// is empty.
func LoadTemplates(path string) (*TemplateSet, error) {
	if path == "" {
		return DefaultTemplates(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "templates: read %s", path)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes and compiles a YAML template set. The standard/en
// template is required since every lookup falls back to it.
func ParseTemplates(data []byte) (*TemplateSet, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "templates: decode yaml")
	}
	if _, ok := f.Templates[TierStandard]["en"]; !ok {
		return nil, eris.New("templates: standard/en template is required")
	}

	ts := &TemplateSet{engine: newEngine(), templates: f.Templates}
	for tier, langs := range f.Templates {
		for lang, t := range langs {
			if strings.TrimSpace(t.Subject) == "" || strings.TrimSpace(t.Body) == "" {
				return nil, eris.Errorf("templates: %s/%s has an empty subject or body", tier, lang)
			}
			if _, err := ts.compile(string(tier)+"/"+lang+"/subject", t.Subject); err != nil {
				return nil, err
			}
			if _, err := ts.compile(string(tier)+"/"+lang+"/body", t.Body); err != nil {
				return nil, err
			}
		}
	}
	return ts, nil
}

func newEngine() *liquid.Engine {
	engine := liquid.NewEngine()
	title := cases.Title(language.Und)
	engine.RegisterFilter("titlecase", func(s string) string {
		return title.String(strings.ToLower(s))
	})
	return engine
}

func (ts *TemplateSet) compile(key, src string) (*liquid.Template, error) {
	if cached, ok := ts.cache.Load(key); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := ts.engine.ParseString(src)
	if err != nil {
		return nil, eris.Wrapf(err, "templates: parse %s", key)
	}
	ts.cache.Store(key, tpl)
	return tpl, nil
}

// lookup resolves tier and language with fallback to English and then to
// the standard tier.
func (ts *TemplateSet) lookup(tier Tier, lang string) (Tier, string, Template) {
	for _, t := range []Tier{tier, TierStandard} {
		langs := ts.templates[t]
		if tpl, ok := langs[lang]; ok {
			return t, lang, tpl
		}
		if tpl, ok := langs["en"]; ok {
			return t, "en", tpl
		}
	}
	return TierStandard, "en", ts.templates[TierStandard]["en"]
}

// Render substitutes vars into the template for tier and lang.
func (ts *TemplateSet) Render(tier Tier, lang string, vars map[string]any) (*Rendered, error) {
	t, l, tpl := ts.lookup(tier, lang)
	key := string(t) + "/" + l

	subj, err := ts.compile(key+"/subject", tpl.Subject)
	if err != nil {
		return nil, err
	}
	body, err := ts.compile(key+"/body", tpl.Body)
	if err != nil {
		return nil, err
	}

	subject, serr := subj.RenderString(vars)
	if serr != nil {
		return nil, eris.Wrapf(serr, "templates: render %s subject", key)
	}
	content, berr := body.RenderString(vars)
	if berr != nil {
		return nil, eris.Wrapf(berr, "templates: render %s body", key)
	}

	return &Rendered{
		Subject: strings.Join(strings.Fields(subject), " "),
		Body:    strings.TrimSpace(content),
	}, nil
}
