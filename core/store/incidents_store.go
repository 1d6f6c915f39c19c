package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// IncidentsStore persists incidents and their version chains. Reads run on the pool;
// every mutation goes through RunInTx.
type IncidentsStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx IncidentsTx) error) error

	GetIncident(ctx context.Context, id string) (*Incident, error)
	ListOrganizationIncidents(ctx context.Context, organizationID string) ([]IncidentSummary, error)
	ListVersions(ctx context.Context, incidentID string) ([]IncidentVersion, error)
	GetVersionByToken(ctx context.Context, token string) (*IncidentVersion, error)
	ListChainFaults(ctx context.Context) ([]ChainFault, error)
}

// IncidentsTx is the write surface available inside one unit of work.
type IncidentsTx interface {
	NextInternalID(ctx context.Context, organizationID string) (int64, error)
	InsertIncident(ctx context.Context, incident *Incident) error
	// LockIncident refreshes updated_at and holds the row until the unit of work ends.
	// Returns nil when the incident does not exist.
	LockIncident(ctx context.Context, id string, now time.Time) (*Incident, error)
	LatestVersions(ctx context.Context, incidentID string) ([]IncidentVersion, error)
	ClearLatest(ctx context.Context, versionID string) error
	InsertVersion(ctx context.Context, v *IncidentVersion) error
	DeleteIncident(ctx context.Context, id string) error
}

type incidentsStore struct {
	db        *DB
	txTimeout time.Duration
}

const defaultTxTimeout = 5 * time.Second

func NewIncidentsStore(db *DB, txTimeout time.Duration) IncidentsStore {
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}
	return &incidentsStore{db: db, txTimeout: txTimeout}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RunInTx runs fn in one transaction. The transaction is detached from caller
// cancellation and bounded by txTimeout instead: a caller that goes away before the
// commit point rolls the work back, one that goes away after it cannot undo it.
func (s *incidentsStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx IncidentsTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.txTimeout)
	defer cancel()
	sqlTx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()
	if err := fn(txCtx, &incidentsTx{q: sqlTx, d: s.db.Dialect}); err != nil {
		return classify(err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

const incidentColumns = `i.id, i.organization_id, i.internal_id, i.created_at, i.updated_at`

const versionColumns = `v.id, v.incident_id, v.version_number, v.is_latest, v.token, v.detected_at, v.description, v.incident_type, v.data_categories, v.affected_subjects, v.consequences, v.measures_taken, v.resolved_at, v.regulator_notified, v.regulator_notified_at, v.subjects_notified, v.subjects_notified_at, v.internal_notes, v.created_by, v.created_at`

func (s *incidentsStore) GetIncident(ctx context.Context, id string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, s.db.Dialect.rebind(`
		SELECT `+incidentColumns+`
		FROM incidents i WHERE i.id=?`), id)
	return scanIncident(row)
}

// ListOrganizationIncidents returns every incident of the organization, newest first,
// with its highest-numbered version and the number of versions flagged latest. An
// incident with no versions at all comes back with a zero Latest and VersionCount 0.
func (s *incidentsStore) ListOrganizationIncidents(ctx context.Context, organizationID string) ([]IncidentSummary, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Dialect.rebind(`
		SELECT `+incidentColumns+`,
			(SELECT COUNT(*) FROM incident_versions c WHERE c.incident_id = i.id) AS version_count,
			(SELECT COUNT(*) FROM incident_versions c WHERE c.incident_id = i.id AND c.is_latest = TRUE) AS latest_count
		FROM incidents i
		WHERE i.organization_id=?
		ORDER BY i.internal_id DESC`), organizationID)
	if err != nil {
		return nil, err
	}
	var res []IncidentSummary
	for rows.Next() {
		var (
			item               IncidentSummary
			count, latestCount int64
		)
		dest := append(incidentDest(&item.Incident), &count, &latestCount)
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return nil, err
		}
		finishIncident(&item.Incident)
		item.VersionCount = int(count)
		item.LatestCount = int(latestCount)
		res = append(res, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(res) == 0 {
		return res, nil
	}

	heads, err := s.db.QueryContext(ctx, s.db.Dialect.rebind(`
		SELECT `+versionColumns+`
		FROM incident_versions v
		JOIN incidents i ON i.id = v.incident_id
		WHERE i.organization_id=?
			AND v.version_number = (SELECT MAX(m.version_number) FROM incident_versions m WHERE m.incident_id = v.incident_id)`), organizationID)
	if err != nil {
		return nil, err
	}
	defer heads.Close()
	versions, err := scanVersions(heads)
	if err != nil {
		return nil, err
	}
	byIncident := make(map[string]IncidentVersion, len(versions))
	for _, v := range versions {
		byIncident[v.IncidentID] = v
	}
	out := res[:0]
	for _, item := range res {
		head, ok := byIncident[item.Incident.ID]
		if !ok && item.VersionCount > 0 {
			// deleted between the two reads
			continue
		}
		item.Latest = head
		out = append(out, item)
	}
	return out, nil
}

func (s *incidentsStore) ListVersions(ctx context.Context, incidentID string) ([]IncidentVersion, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Dialect.rebind(`
		SELECT `+versionColumns+`
		FROM incident_versions v
		WHERE v.incident_id=?
		ORDER BY v.version_number DESC`), incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVersions(rows)
}

func (s *incidentsStore) GetVersionByToken(ctx context.Context, token string) (*IncidentVersion, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, s.db.Dialect.rebind(`
		SELECT `+versionColumns+`
		FROM incident_versions v WHERE v.token=?`), token)
	return scanVersion(row)
}

func (s *incidentsStore) ListChainFaults(ctx context.Context) ([]ChainFault, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id,
			COALESCE(SUM(CASE WHEN v.is_latest THEN 1 ELSE 0 END), 0) AS latest_count,
			COALESCE(MAX(CASE WHEN v.is_latest THEN v.version_number END), 0) AS latest_version,
			COALESCE(MIN(v.version_number), 0) AS min_version,
			COALESCE(MAX(v.version_number), 0) AS max_version,
			COUNT(v.id) AS version_count
		FROM incidents i
		LEFT JOIN incident_versions v ON v.incident_id = i.id
		GROUP BY i.id
		HAVING COALESCE(SUM(CASE WHEN v.is_latest THEN 1 ELSE 0 END), 0) <> 1
			OR COALESCE(MAX(CASE WHEN v.is_latest THEN v.version_number END), 0) <> COALESCE(MAX(v.version_number), 0)
			OR COALESCE(MIN(v.version_number), 0) <> 1
			OR COUNT(v.id) <> COALESCE(MAX(v.version_number), 0)
		ORDER BY i.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ChainFault
	for rows.Next() {
		var f ChainFault
		var latestCount, latestVersion, minVersion, maxVersion, count int64
		if err := rows.Scan(&f.IncidentID, &latestCount, &latestVersion, &minVersion, &maxVersion, &count); err != nil {
			return nil, err
		}
		f.LatestCount = int(latestCount)
		f.LatestVersion = int(latestVersion)
		f.MinVersion = int(minVersion)
		f.MaxVersion = int(maxVersion)
		f.VersionCount = int(count)
		res = append(res, f)
	}
	return res, rows.Err()
}

type incidentsTx struct {
	q queryer
	d Dialect
}

func (t *incidentsTx) NextInternalID(ctx context.Context, organizationID string) (int64, error) {
	var seq int64
	if err := t.q.QueryRowContext(ctx, t.d.rebind(`
		INSERT INTO incident_org_counters(organization_id, seq)
		VALUES(?,1)
		ON CONFLICT (organization_id)
		DO UPDATE SET seq = incident_org_counters.seq + 1
		RETURNING seq
	`), organizationID).Scan(&seq); err != nil {
		return 0, classify(err)
	}
	return seq, nil
}

func (t *incidentsTx) InsertIncident(ctx context.Context, incident *Incident) error {
	_, err := t.q.ExecContext(ctx, t.d.rebind(`
		INSERT INTO incidents(id, organization_id, internal_id, created_at, updated_at)
		VALUES(?,?,?,?,?)`),
		incident.ID, incident.OrganizationID, incident.InternalID, incident.CreatedAt.UTC(), incident.UpdatedAt.UTC())
	return classify(err)
}

func (t *incidentsTx) LockIncident(ctx context.Context, id string, now time.Time) (*Incident, error) {
	res, err := t.q.ExecContext(ctx, t.d.rebind(`UPDATE incidents SET updated_at=? WHERE id=?`), now.UTC(), id)
	if err != nil {
		return nil, classify(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, nil
	}
	row := t.q.QueryRowContext(ctx, t.d.rebind(`
		SELECT `+incidentColumns+`
		FROM incidents i WHERE i.id=?`), id)
	inc, err := scanIncident(row)
	return inc, classify(err)
}

func (t *incidentsTx) LatestVersions(ctx context.Context, incidentID string) ([]IncidentVersion, error) {
	rows, err := t.q.QueryContext(ctx, t.d.rebind(`
		SELECT `+versionColumns+`
		FROM incident_versions v
		WHERE v.incident_id=? AND v.is_latest = TRUE
		ORDER BY v.version_number DESC`), incidentID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return scanVersions(rows)
}

func (t *incidentsTx) ClearLatest(ctx context.Context, versionID string) error {
	res, err := t.q.ExecContext(ctx, t.d.rebind(`
		UPDATE incident_versions SET is_latest = FALSE
		WHERE id=? AND is_latest = TRUE`), versionID)
	if err != nil {
		return classify(err)
	}
	if affected, _ := res.RowsAffected(); affected != 1 {
		return ErrConflict
	}
	return nil
}

func (t *incidentsTx) InsertVersion(ctx context.Context, v *IncidentVersion) error {
	_, err := t.q.ExecContext(ctx, t.d.rebind(`
		INSERT INTO incident_versions(id, incident_id, version_number, is_latest, token, detected_at, description, incident_type, data_categories, affected_subjects, consequences, measures_taken, resolved_at, regulator_notified, regulator_notified_at, subjects_notified, subjects_notified_at, internal_notes, created_by, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		v.ID, v.IncidentID, v.VersionNumber, v.IsLatest, v.Token,
		nullableTime(v.DetectedAt), v.Description, v.IncidentType, categoriesToJSON(v.DataCategories), v.AffectedSubjects,
		v.Consequences, v.MeasuresTaken, nullableTime(v.ResolvedAt),
		v.RegulatorNotified, nullableTime(v.RegulatorNotifiedAt),
		v.SubjectsNotified, nullableTime(v.SubjectsNotifiedAt),
		v.InternalNotes, v.CreatedBy, v.CreatedAt.UTC())
	return classify(err)
}

func (t *incidentsTx) DeleteIncident(ctx context.Context, id string) error {
	if _, err := t.q.ExecContext(ctx, t.d.rebind(`DELETE FROM incident_versions WHERE incident_id=?`), id); err != nil {
		return classify(err)
	}
	res, err := t.q.ExecContext(ctx, t.d.rebind(`DELETE FROM incidents WHERE id=?`), id)
	if err != nil {
		return classify(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func incidentDest(inc *Incident) []any {
	return []any{&inc.ID, &inc.OrganizationID, &inc.InternalID, &inc.CreatedAt, &inc.UpdatedAt}
}

func finishIncident(inc *Incident) {
	inc.CreatedAt = inc.CreatedAt.UTC()
	inc.UpdatedAt = inc.UpdatedAt.UTC()
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	if err := row.Scan(incidentDest(&inc)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	finishIncident(&inc)
	return &inc, nil
}

// versionRow holds the nullable and encoded columns of one version row until finish
// decodes them.
type versionRow struct {
	v             IncidentVersion
	detected      sql.NullTime
	resolved      sql.NullTime
	regulatorAt   sql.NullTime
	subjectsAt    sql.NullTime
	categoriesRaw string
}

func (r *versionRow) dest() []any {
	v := &r.v
	return []any{
		&v.ID, &v.IncidentID, &v.VersionNumber, &v.IsLatest, &v.Token,
		&r.detected, &v.Description, &v.IncidentType, &r.categoriesRaw, &v.AffectedSubjects,
		&v.Consequences, &v.MeasuresTaken, &r.resolved,
		&v.RegulatorNotified, &r.regulatorAt,
		&v.SubjectsNotified, &r.subjectsAt,
		&v.InternalNotes, &v.CreatedBy, &v.CreatedAt,
	}
}

func (r *versionRow) finish() (IncidentVersion, error) {
	v := r.v
	v.DetectedAt = timePtr(r.detected)
	v.ResolvedAt = timePtr(r.resolved)
	v.RegulatorNotifiedAt = timePtr(r.regulatorAt)
	v.SubjectsNotifiedAt = timePtr(r.subjectsAt)
	v.CreatedAt = v.CreatedAt.UTC()
	cats, err := parseCategories(r.categoriesRaw)
	if err != nil {
		return v, err
	}
	v.DataCategories = cats
	return v, nil
}

func scanVersion(row rowScanner) (*IncidentVersion, error) {
	var r versionRow
	if err := row.Scan(r.dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	v, err := r.finish()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func scanVersions(rows *sql.Rows) ([]IncidentVersion, error) {
	var res []IncidentVersion
	for rows.Next() {
		var r versionRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, err
		}
		v, err := r.finish()
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func categoriesToJSON(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseCategories(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode data_categories: %w", err)
	}
	return out, nil
}
