package models

import "time"

type Source string

const (
	ServiceNowSource Source = "servicenow"
	ZabbixSource     Source = "zabbix"
)

// WorkItem is a tracked ticket or monitoring event. Key is stable for the item's lifetime.
type WorkItem struct {
	Key              string     `json:"key" db:"item_key"`                        // Source identifier (e.g., "INC0012345" or a Zabbix event id)
	Source           Source     `json:"source" db:"source"`                       // Which connector produced the item
	Description      string     `json:"description" db:"description"`             // Monitored
	ShortDescription string     `json:"short_description" db:"short_description"` // Headline shown in listings
	ContextTag       string     `json:"context_tag" db:"context_tag"`             // Monitored; affected CI or host names
	Status           string     `json:"status" db:"status"`                       // Source status code or severity label
	WorkNotes        string     `json:"work_notes" db:"work_notes"`               // Monitored
	OpenedAt         *time.Time `json:"opened_at,omitempty" db:"opened_at"`       // As reported by the source
	LastUpdated      time.Time  `json:"last_updated" db:"last_updated"`           // Refreshed on every sighting
	URL              string     `json:"url" db:"url"`                             // Link back to the source system
	Archived         bool       `json:"archived" db:"archived"`                   // One-way; set when the item disappears from its source
	ResolvedAt       *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`   // Set together with Archived
}

// Changed reports whether any monitored field differs between the stored item and a fresh sighting.
func (w WorkItem) Changed(fresh WorkItem) bool {
	return w.Description != fresh.Description ||
		w.WorkNotes != fresh.WorkNotes ||
		w.ContextTag != fresh.ContextTag
}

// RawItem is what a source connector returns for a single pulled item.
type RawItem struct {
	Key              string
	Description      string
	ShortDescription string
	ContextTag       string
	Status           string
	WorkNotes        string
	OpenedAt         *time.Time
	URL              string
}

// ToWorkItem stamps a raw item with its source and sighting time.
func (r RawItem) ToWorkItem(source Source, seenAt time.Time) WorkItem {
	return WorkItem{
		Key:              r.Key,
		Source:           source,
		Description:      r.Description,
		ShortDescription: r.ShortDescription,
		ContextTag:       r.ContextTag,
		Status:           r.Status,
		WorkNotes:        r.WorkNotes,
		OpenedAt:         r.OpenedAt,
		LastUpdated:      seenAt,
		URL:              r.URL,
	}
}

// ItemView is a work item joined with its most recent solution, if any.
type ItemView struct {
	WorkItem
	Solution    *string    `json:"solution,omitempty" db:"solution"`
	GeneratedAt *time.Time `json:"generated_at,omitempty" db:"generated_at"`
}
