package incidents

import (
	"slices"
	"time"

	"incident-registry/core/store"
)

const changeCreated = "created"

type HistoryEntry struct {
	VersionNumber int       `json:"version_number"`
	Token         string    `json:"token"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by"`
	Changes       []string  `json:"changes"`
}

type contentField struct {
	name  string
	equal func(a, b store.IncidentContent) bool
}

var contentFields = []contentField{
	{"detection_date", func(a, b store.IncidentContent) bool { return sameTime(a.DetectedAt, b.DetectedAt) }},
	{"description", func(a, b store.IncidentContent) bool { return a.Description == b.Description }},
	{"incident_type", func(a, b store.IncidentContent) bool { return a.IncidentType == b.IncidentType }},
	{"data_categories", func(a, b store.IncidentContent) bool { return slices.Equal(a.DataCategories, b.DataCategories) }},
	{"affected_subjects", func(a, b store.IncidentContent) bool { return a.AffectedSubjects == b.AffectedSubjects }},
	{"consequences", func(a, b store.IncidentContent) bool { return a.Consequences == b.Consequences }},
	{"measures_taken", func(a, b store.IncidentContent) bool { return a.MeasuresTaken == b.MeasuresTaken }},
	{"resolution_date", func(a, b store.IncidentContent) bool { return sameTime(a.ResolvedAt, b.ResolvedAt) }},
	{"regulator_notified", func(a, b store.IncidentContent) bool { return a.RegulatorNotified == b.RegulatorNotified }},
	{"regulator_notified_at", func(a, b store.IncidentContent) bool { return sameTime(a.RegulatorNotifiedAt, b.RegulatorNotifiedAt) }},
	{"subjects_notified", func(a, b store.IncidentContent) bool { return a.SubjectsNotified == b.SubjectsNotified }},
	{"subjects_notified_at", func(a, b store.IncidentContent) bool { return sameTime(a.SubjectsNotifiedAt, b.SubjectsNotifiedAt) }},
	{"internal_notes", func(a, b store.IncidentContent) bool { return a.InternalNotes == b.InternalNotes }},
}

// ChangedFields names the content fields that differ between prev and next, in a
// fixed order.
func ChangedFields(prev, next store.IncidentContent) []string {
	changes := []string{}
	for _, f := range contentFields {
		if !f.equal(prev, next) {
			changes = append(changes, f.name)
		}
	}
	return changes
}

// BuildHistory turns versions ordered newest first into history entries in the same
// order. Version 1 reports "created".
func BuildHistory(versions []store.IncidentVersion) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(versions))
	for i, v := range versions {
		entry := HistoryEntry{
			VersionNumber: v.VersionNumber,
			Token:         v.Token,
			CreatedAt:     v.CreatedAt,
			CreatedBy:     v.CreatedBy,
		}
		if i+1 < len(versions) {
			entry.Changes = ChangedFields(versions[i+1].IncidentContent, v.IncidentContent)
		} else {
			entry.Changes = []string{changeCreated}
		}
		out = append(out, entry)
	}
	return out
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
