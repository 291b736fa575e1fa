package odoo

import "time"

// Config holds connection, resilience and model mapping settings for an Odoo
// target.
type Config struct {
	URL      string
	Database string
	Username string
	// Password may be an API key.
	Password string

	// Timeout bounds each JSON-RPC call. Expiry is a transient failure.
	Timeout time.Duration
	// RequestsPerSecond and Burst configure the client-side rate limit.
	RequestsPerSecond float64
	Burst             int
	// BreakerFailures consecutive transient failures open the circuit for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	// PageSize is the search_read page size used by Fetch.
	PageSize int

	Models map[string]ModelMapping
}

// ModelMapping maps an entity type onto an Odoo model.
type ModelMapping struct {
	Model string `yaml:"model" json:"model"`
	// Domain restricts Fetch and Exists (res.partner companies vs contacts).
	Domain []any `yaml:"domain" json:"domain"`
	// Fields renames engine fields to Odoo fields. Unlisted fields pass through.
	Fields map[string]string `yaml:"fields" json:"fields"`
	// Relations are many2one fields: ids are sent as integers and fetched
	// [id, display_name] pairs are flattened to the id.
	Relations []string `yaml:"relations" json:"relations"`
	// Read lists the Odoo fields Fetch reads. Empty reads every mapped field.
	Read []string `yaml:"read" json:"read"`
}

// DefaultModels maps the CRM entity types onto standard Odoo models.
func DefaultModels() map[string]ModelMapping {
	return map[string]ModelMapping{
		"country": {Model: "res.country", Read: []string{"name", "code"}},
		"tag":     {Model: "crm.tag", Read: []string{"name"}},
		"organization": {
			Model:     "res.partner",
			Domain:    []any{[]any{"is_company", "=", true}},
			Fields:    map[string]string{"country": "country_id"},
			Relations: []string{"country_id"},
			Read:      []string{"name", "vat", "phone", "email", "street", "city", "state_id", "zip", "country_id"},
		},
		"person": {
			Model:     "res.partner",
			Domain:    []any{[]any{"is_company", "=", false}},
			Fields:    map[string]string{"organization": "parent_id", "country": "country_id"},
			Relations: []string{"parent_id", "country_id"},
			Read:      []string{"name", "email", "phone", "mobile", "parent_id", "country_id"},
		},
		"lead": {
			Model:     "crm.lead",
			Fields:    map[string]string{"organization": "partner_id", "person": "partner_id", "title": "name"},
			Relations: []string{"partner_id"},
			Read:      []string{"name", "partner_id", "email_from", "expected_revenue", "create_date", "stage_id"},
		},
		"activity": {
			Model:     "mail.activity",
			Fields:    map[string]string{"note": "note", "due_date": "date_deadline"},
			Relations: []string{"res_id"},
			Read:      []string{"res_model", "res_id", "summary", "date_deadline"},
		},
	}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 20
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 500
	}
	if c.Models == nil {
		c.Models = DefaultModels()
	}
	return c
}
