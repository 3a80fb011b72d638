package models

import "time"

// Solution is one generated answer for a work item. Rows are append-only.
type Solution struct {
	ID                int64     `json:"id" db:"id"`                                   // Auto-incremented
	ItemKey           string    `json:"item_key" db:"item_key"`                       // References WorkItem.Key
	Text              string    `json:"solution" db:"solution"`                       // Generated text or failure text
	GeneratedAt       time.Time `json:"generated_at" db:"generated_at"`               // History is ordered by this, newest first
	WorkNotesSnapshot string    `json:"work_notes_snapshot" db:"work_notes_snapshot"` // Work notes the answer was generated from
	Context           string    `json:"context" db:"rag_context"`                     // Retrieved context used in the prompt
}
