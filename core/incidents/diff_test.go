package incidents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-registry/core/store"
)

func TestChangedFields(t *testing.T) {
	base := sampleContent()
	assert.Empty(t, ChangedFields(base, base))

	next := base
	next.Description = "Other"
	next.DataCategories = []string{"contact", "health"}
	next.SubjectsNotified = true
	next.SubjectsNotifiedAt = dateUTC(2024, 1, 20)
	assert.Equal(t, []string{"description", "data_categories", "subjects_notified", "subjects_notified_at"}, ChangedFields(base, next))

	// same instant in another zone is not a change
	shifted := base
	detected := base.DetectedAt.In(time.FixedZone("UTC+3", 3*3600))
	shifted.DetectedAt = &detected
	assert.Empty(t, ChangedFields(base, shifted))

	cleared := base
	cleared.DetectedAt = nil
	assert.Equal(t, []string{"detection_date"}, ChangedFields(base, cleared))
}

func TestBuildHistory(t *testing.T) {
	at := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	v1 := store.IncidentVersion{VersionNumber: 1, Token: "t1", CreatedBy: "alice", CreatedAt: at, IncidentContent: sampleContent()}
	v2 := v1
	v2.VersionNumber, v2.Token, v2.CreatedBy, v2.IsLatest = 2, "t2", "bob", true
	v2.InternalNotes = "escalated"

	history := BuildHistory([]store.IncidentVersion{v2, v1})
	require.Len(t, history, 2)
	assert.Equal(t, "t2", history[0].Token)
	assert.Equal(t, []string{"internal_notes"}, history[0].Changes)
	assert.Equal(t, []string{"created"}, history[1].Changes)
	assert.Empty(t, BuildHistory(nil))
}
