package store

import (
	"strings"
	"time"
)

type Incident struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	InternalID     int64     `json:"internal_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IncidentContent holds the reportable facts of one version.
type IncidentContent struct {
	DetectedAt          *time.Time `json:"detection_date"`
	Description         string     `json:"description"`
	IncidentType        string     `json:"incident_type"`
	DataCategories      []string   `json:"data_categories"`
	AffectedSubjects    int        `json:"affected_subjects"`
	Consequences        string     `json:"consequences"`
	MeasuresTaken       string     `json:"measures_taken"`
	ResolvedAt          *time.Time `json:"resolution_date"`
	RegulatorNotified   bool       `json:"regulator_notified"`
	RegulatorNotifiedAt *time.Time `json:"regulator_notified_at"`
	SubjectsNotified    bool       `json:"subjects_notified"`
	SubjectsNotifiedAt  *time.Time `json:"subjects_notified_at"`
	InternalNotes       string     `json:"internal_notes"`
}

func (c IncidentContent) Resolved() bool {
	return c.ResolvedAt != nil
}

type IncidentVersion struct {
	ID            string `json:"id"`
	IncidentID    string `json:"incident_id"`
	VersionNumber int    `json:"version_number"`
	IsLatest      bool   `json:"is_latest"`
	Token         string `json:"token"`
	IncidentContent
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// IncidentSummary pairs an incident with its highest-numbered version. LatestCount is
// the number of versions flagged is_latest; anything other than 1 is a broken chain.
type IncidentSummary struct {
	Incident     Incident        `json:"incident"`
	Latest       IncidentVersion `json:"latest"`
	VersionCount int             `json:"version_count"`
	LatestCount  int             `json:"-"`
}

// ChainFault describes an incident whose version chain breaks the latest/numbering
// invariants.
type ChainFault struct {
	IncidentID    string `json:"incident_id"`
	LatestCount   int    `json:"latest_count"`
	LatestVersion int    `json:"latest_version"`
	MinVersion    int    `json:"min_version"`
	MaxVersion    int    `json:"max_version"`
	VersionCount  int    `json:"version_count"`
}

func NormalizeIncidentContent(c IncidentContent) IncidentContent {
	c.Description = strings.TrimSpace(c.Description)
	c.IncidentType = strings.TrimSpace(c.IncidentType)
	c.Consequences = strings.TrimSpace(c.Consequences)
	c.MeasuresTaken = strings.TrimSpace(c.MeasuresTaken)
	c.InternalNotes = strings.TrimSpace(c.InternalNotes)
	c.DataCategories = normalizeCategories(c.DataCategories)
	c.DetectedAt = utcPtr(c.DetectedAt)
	c.ResolvedAt = utcPtr(c.ResolvedAt)
	c.RegulatorNotifiedAt = utcPtr(c.RegulatorNotifiedAt)
	c.SubjectsNotifiedAt = utcPtr(c.SubjectsNotifiedAt)
	return c
}

// normalizeCategories keeps input order and spelling. Duplicates are matched
// case-insensitively and the first spelling wins.
func normalizeCategories(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, raw := range in {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		key := strings.ToLower(val)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, val)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
