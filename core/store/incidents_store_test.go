package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-registry/core/store"
	"incident-registry/core/store/storetest"
)

func newIncidentsStore(t *testing.T) (store.IncidentsStore, *store.DB) {
	t.Helper()
	db := storetest.NewSQLite(t)
	return store.NewIncidentsStore(db, 5*time.Second), db
}

var baseTime = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

// seedIncident inserts an incident with version 1 flagged latest.
func seedIncident(t *testing.T, st store.IncidentsStore, id, org, token string) *store.Incident {
	t.Helper()
	var inc *store.Incident
	err := st.RunInTx(context.Background(), func(ctx context.Context, tx store.IncidentsTx) error {
		internalID, err := tx.NextInternalID(ctx, org)
		if err != nil {
			return err
		}
		inc = &store.Incident{ID: id, OrganizationID: org, InternalID: internalID, CreatedAt: baseTime, UpdatedAt: baseTime}
		if err := tx.InsertIncident(ctx, inc); err != nil {
			return err
		}
		return tx.InsertVersion(ctx, &store.IncidentVersion{
			ID:            id + "-v1",
			IncidentID:    id,
			VersionNumber: 1,
			IsLatest:      true,
			Token:         token,
			CreatedBy:     "actor",
			CreatedAt:     baseTime,
		})
	})
	require.NoError(t, err)
	return inc
}

func insertVersion(t *testing.T, st store.IncidentsStore, v store.IncidentVersion) error {
	t.Helper()
	return st.RunInTx(context.Background(), func(ctx context.Context, tx store.IncidentsTx) error {
		return tx.InsertVersion(ctx, &v)
	})
}

func TestMigrationsApplySchemaVersion(t *testing.T) {
	db := storetest.NewSQLite(t)
	version, err := store.SchemaVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestNextInternalIDIsSequentialPerOrganization(t *testing.T) {
	st, _ := newIncidentsStore(t)
	a1 := seedIncident(t, st, "a1", "org-a", "tok-a1")
	a2 := seedIncident(t, st, "a2", "org-a", "tok-a2")
	b1 := seedIncident(t, st, "b1", "org-b", "tok-b1")
	a3 := seedIncident(t, st, "a3", "org-a", "tok-a3")
	assert.Equal(t, []int64{1, 2, 3}, []int64{a1.InternalID, a2.InternalID, a3.InternalID})
	assert.Equal(t, int64(1), b1.InternalID)
}

func TestVersionContentRoundTrip(t *testing.T) {
	st, _ := newIncidentsStore(t)
	seedIncident(t, st, "inc", "org", "tok-1")
	detected := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	resolved := time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC)
	notified := time.Date(2024, 1, 12, 8, 0, 0, 0, time.UTC)

	err := st.RunInTx(context.Background(), func(ctx context.Context, tx store.IncidentsTx) error {
		latest, err := tx.LatestVersions(ctx, "inc")
		if err != nil {
			return err
		}
		require.Len(t, latest, 1)
		if err := tx.ClearLatest(ctx, latest[0].ID); err != nil {
			return err
		}
		return tx.InsertVersion(ctx, &store.IncidentVersion{
			ID:            "inc-v2",
			IncidentID:    "inc",
			VersionNumber: 2,
			IsLatest:      true,
			Token:         "tok-2",
			IncidentContent: store.IncidentContent{
				DetectedAt:          &detected,
				Description:         "phishing",
				IncidentType:        "unauthorized_access",
				DataCategories:      []string{"contact", "health"},
				AffectedSubjects:    42,
				Consequences:        "exposure",
				MeasuresTaken:       "reset",
				ResolvedAt:          &resolved,
				RegulatorNotified:   true,
				RegulatorNotifiedAt: &notified,
				InternalNotes:       "call legal",
			},
			CreatedBy: "alice",
			CreatedAt: resolved,
		})
	})
	require.NoError(t, err)

	v, err := st.GetVersionByToken(context.Background(), "tok-2")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 2, v.VersionNumber)
	assert.True(t, v.IsLatest)
	require.NotNil(t, v.DetectedAt)
	assert.True(t, detected.Equal(*v.DetectedAt))
	require.NotNil(t, v.ResolvedAt)
	assert.True(t, resolved.Equal(*v.ResolvedAt))
	require.NotNil(t, v.RegulatorNotifiedAt)
	assert.Nil(t, v.SubjectsNotifiedAt)
	assert.Equal(t, []string{"contact", "health"}, v.DataCategories)
	assert.Equal(t, 42, v.AffectedSubjects)
	assert.Equal(t, "call legal", v.InternalNotes)
	assert.Equal(t, "alice", v.CreatedBy)

	old, err := st.GetVersionByToken(context.Background(), "tok-1")
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.False(t, old.IsLatest)
	assert.Empty(t, old.DataCategories)
}

func TestStoreRejectsSecondLatestVersion(t *testing.T) {
	st, _ := newIncidentsStore(t)
	seedIncident(t, st, "inc", "org", "tok-1")
	err := insertVersion(t, st, store.IncidentVersion{
		ID: "inc-v2", IncidentID: "inc", VersionNumber: 2, IsLatest: true, Token: "tok-2", CreatedBy: "x", CreatedAt: baseTime,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConflict), "got %v", err)
}

func TestStoreRejectsDuplicateVersionNumber(t *testing.T) {
	st, _ := newIncidentsStore(t)
	seedIncident(t, st, "inc", "org", "tok-1")
	err := insertVersion(t, st, store.IncidentVersion{
		ID: "inc-dup", IncidentID: "inc", VersionNumber: 1, IsLatest: false, Token: "tok-2", CreatedBy: "x", CreatedAt: baseTime,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConflict), "got %v", err)
}

func TestStoreRejectsDuplicateToken(t *testing.T) {
	st, _ := newIncidentsStore(t)
	seedIncident(t, st, "inc", "org", "tok-1")
	err := insertVersion(t, st, store.IncidentVersion{
		ID: "inc-v2", IncidentID: "inc", VersionNumber: 2, IsLatest: false, Token: "tok-1", CreatedBy: "x", CreatedAt: baseTime,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConflict), "got %v", err)
}

func TestClearLatestOnStaleRowIsConflict(t *testing.T) {
	st, _ := newIncidentsStore(t)
	seedIncident(t, st, "inc", "org", "tok-1")
	err := st.RunInTx(context.Background(), func(ctx context.Context, tx store.IncidentsTx) error {
		if err := tx.ClearLatest(ctx, "inc-v1"); err != nil {
			return err
		}
		return tx.ClearLatest(ctx, "inc-v1")
	})
	assert.True(t, errors.Is(err, store.ErrConflict), "got %v", err)
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	st, _ := newIncidentsStore(t)
	boom := errors.New("boom")
	err := st.RunInTx(context.Background(), func(ctx context.Context, tx store.IncidentsTx) error {
		if _, err := tx.NextInternalID(ctx, "org"); err != nil {
			return err
		}
		if err := tx.InsertIncident(ctx, &store.Incident{ID: "gone", OrganizationID: "org", InternalID: 1, CreatedAt: baseTime, UpdatedAt: baseTime}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	inc, err := st.GetIncident(context.Background(), "gone")
	require.NoError(t, err)
	assert.Nil(t, inc)

	// the counter increment was rolled back as well
	first := seedIncident(t, st, "kept", "org", "tok")
	assert.Equal(t, int64(1), first.InternalID)
}

func TestRunInTxRefusesCancelledContext(t *testing.T) {
	st, _ := newIncidentsStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := st.RunInTx(ctx, func(ctx context.Context, tx store.IncidentsTx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestLockIncidentRefreshesUpdatedAt(t *testing.T) {
	st, _ := newIncidentsStore(t)
	seedIncident(t, st, "inc", "org", "tok")
	later := baseTime.Add(48 * time.Hour)
	err := st.RunInTx(context.Background(), func(ctx context.Context, tx store.IncidentsTx) error {
		inc, err := tx.LockIncident(ctx, "inc", later)
		require.NotNil(t, inc)
		assert.True(t, later.Equal(inc.UpdatedAt))
		assert.True(t, baseTime.Equal(inc.CreatedAt))

		missing, err2 := tx.LockIncident(ctx, "missing", later)
		assert.Nil(t, missing)
		if err != nil {
			return err
		}
		return err2
	})
	require.NoError(t, err)
}

func TestDeleteIncidentCascadesAndKeepsCounter(t *testing.T) {
	st, _ := newIncidentsStore(t)
	seedIncident(t, st, "one", "org", "tok-1")
	seedIncident(t, st, "two", "org", "tok-2")

	err := st.RunInTx(context.Background(), func(ctx context.Context, tx store.IncidentsTx) error {
		return tx.DeleteIncident(ctx, "two")
	})
	require.NoError(t, err)

	v, err := st.GetVersionByToken(context.Background(), "tok-2")
	require.NoError(t, err)
	assert.Nil(t, v)
	versions, err := st.ListVersions(context.Background(), "two")
	require.NoError(t, err)
	assert.Empty(t, versions)

	three := seedIncident(t, st, "three", "org", "tok-3")
	assert.Equal(t, int64(3), three.InternalID)

	err = st.RunInTx(context.Background(), func(ctx context.Context, tx store.IncidentsTx) error {
		return tx.DeleteIncident(ctx, "two")
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListOrganizationIncidents(t *testing.T) {
	st, _ := newIncidentsStore(t)
	seedIncident(t, st, "a1", "org-a", "tok-a1")
	seedIncident(t, st, "a2", "org-a", "tok-a2")
	seedIncident(t, st, "b1", "org-b", "tok-b1")
	err := st.RunInTx(context.Background(), func(ctx context.Context, tx store.IncidentsTx) error {
		if err := tx.ClearLatest(ctx, "a1-v1"); err != nil {
			return err
		}
		return tx.InsertVersion(ctx, &store.IncidentVersion{
			ID: "a1-v2", IncidentID: "a1", VersionNumber: 2, IsLatest: true, Token: "tok-a1-2",
			IncidentContent: store.IncidentContent{Description: "second"},
			CreatedBy:       "x", CreatedAt: baseTime,
		})
	})
	require.NoError(t, err)

	items, err := st.ListOrganizationIncidents(context.Background(), "org-a")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a2", items[0].Incident.ID)
	assert.Equal(t, 1, items[0].VersionCount)
	assert.Equal(t, "a1", items[1].Incident.ID)
	assert.Equal(t, 2, items[1].VersionCount)
	assert.Equal(t, 2, items[1].Latest.VersionNumber)
	assert.Equal(t, "second", items[1].Latest.Description)
	assert.Equal(t, 1, items[0].LatestCount)
	assert.Equal(t, 1, items[1].LatestCount)

	none, err := st.ListOrganizationIncidents(context.Background(), "org-none")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListOrganizationIncidentsKeepsBrokenChains(t *testing.T) {
	st, db := newIncidentsStore(t)
	seedIncident(t, st, "ok", "org", "tok-ok")
	seedIncident(t, st, "nolatest", "org", "tok-n")
	seedIncident(t, st, "empty", "org", "tok-e")
	_, err := db.Exec(`UPDATE incident_versions SET is_latest = FALSE WHERE incident_id = 'nolatest'`)
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM incident_versions WHERE incident_id = 'empty'`)
	require.NoError(t, err)

	items, err := st.ListOrganizationIncidents(context.Background(), "org")
	require.NoError(t, err)
	require.Len(t, items, 3)
	byID := map[string]store.IncidentSummary{}
	for _, item := range items {
		byID[item.Incident.ID] = item
	}
	assert.Equal(t, 1, byID["ok"].LatestCount)
	assert.Equal(t, 0, byID["nolatest"].LatestCount)
	assert.Equal(t, 1, byID["nolatest"].VersionCount)
	assert.Equal(t, 1, byID["nolatest"].Latest.VersionNumber)
	assert.False(t, byID["nolatest"].Latest.IsLatest)
	assert.Equal(t, 0, byID["empty"].LatestCount)
	assert.Equal(t, 0, byID["empty"].VersionCount)
	assert.Empty(t, byID["empty"].Latest.ID)
}

func TestListChainFaults(t *testing.T) {
	st, db := newIncidentsStore(t)
	seedIncident(t, st, "healthy", "org", "tok-h")
	seedIncident(t, st, "nolatest", "org", "tok-n")
	seedIncident(t, st, "gap", "org", "tok-g")

	_, err := db.Exec(`UPDATE incident_versions SET is_latest = FALSE WHERE incident_id = 'nolatest'`)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE incident_versions SET is_latest = FALSE WHERE incident_id = 'gap'`)
	require.NoError(t, err)
	require.NoError(t, insertVersion(t, st, store.IncidentVersion{
		ID: "gap-v3", IncidentID: "gap", VersionNumber: 3, IsLatest: true, Token: "tok-g3", CreatedBy: "x", CreatedAt: baseTime,
	}))

	faults, err := st.ListChainFaults(context.Background())
	require.NoError(t, err)
	require.Len(t, faults, 2)
	assert.Equal(t, "gap", faults[0].IncidentID)
	assert.Equal(t, 1, faults[0].LatestCount)
	assert.Equal(t, 2, faults[0].VersionCount)
	assert.Equal(t, 3, faults[0].MaxVersion)
	assert.Equal(t, "nolatest", faults[1].IncidentID)
	assert.Equal(t, 0, faults[1].LatestCount)
}

func TestGetVersionByTokenUnknown(t *testing.T) {
	st, _ := newIncidentsStore(t)
	v, err := st.GetVersionByToken(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, v)
	v, err = st.GetVersionByToken(context.Background(), "  ")
	require.NoError(t, err)
	assert.Nil(t, v)
}
