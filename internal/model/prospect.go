package model

import "time"

// ProspectStatus is the lifecycle state of a discovered business.
type ProspectStatus string

const (
	ProspectNew       ProspectStatus = "new"
	ProspectQueued    ProspectStatus = "queued"
	ProspectContacted ProspectStatus = "contacted"
	ProspectConverted ProspectStatus = "converted"
	ProspectRejected  ProspectStatus = "rejected"
)

// prospectTransitions lists the legal next states. Rejected prospects may
// re-enter the queue once their cooldown has expired; converted is final.
var prospectTransitions = map[ProspectStatus][]ProspectStatus{
	ProspectNew:       {ProspectQueued, ProspectRejected},
	ProspectQueued:    {ProspectContacted, ProspectRejected},
	ProspectContacted: {ProspectConverted, ProspectRejected},
	ProspectRejected:  {ProspectQueued},
}

// CanAdvanceProspect reports whether from -> to is a legal prospect transition.
func CanAdvanceProspect(from, to ProspectStatus) bool {
	for _, s := range prospectTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PriorStatuses returns every status that may legally move to to.
func PriorStatuses(to ProspectStatus) []ProspectStatus {
	var out []ProspectStatus
	for _, from := range []ProspectStatus{ProspectNew, ProspectQueued, ProspectContacted, ProspectRejected} {
		if CanAdvanceProspect(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Prospect is a candidate business discovered as a potential customer.
type Prospect struct {
	ID              string             `json:"id" db:"id"`
	BusinessName    string             `json:"business_name" db:"business_name"`
	Website         string             `json:"website" db:"website"`
	ContactEmail    *string            `json:"contact_email,omitempty" db:"contact_email"`
	Industry        string             `json:"industry,omitempty" db:"industry"`
	Region          string             `json:"region,omitempty" db:"region"`
	Language        string             `json:"language,omitempty" db:"language"`
	EmployeeCount   *int               `json:"employee_count,omitempty" db:"employee_count"`
	Features        map[string]float64 `json:"features,omitempty" db:"features"`
	Status          ProspectStatus     `json:"status" db:"status"`
	Source          string             `json:"source,omitempty" db:"source"`
	DiscoveredAt    time.Time          `json:"discovered_at" db:"discovered_at"`
	LastContactedAt *time.Time         `json:"last_contacted_at,omitempty" db:"last_contacted_at"`
}

// HasEmail reports whether the prospect carries a usable contact address.
func (p *Prospect) HasEmail() bool {
	return p.ContactEmail != nil && *p.ContactEmail != ""
}

// RankedProspect pairs an eligible prospect with its latest score under the
// active model.
type RankedProspect struct {
	Prospect
	Score float64 `json:"score" db:"score"`
}
