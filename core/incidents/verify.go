package incidents

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"incident-registry/core/store"
)

// PublicIncident is what an anonymous token holder learns about the incident itself.
type PublicIncident struct {
	InternalID int64     `json:"internal_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PublicVersion is a version without internal notes, actor or token.
type PublicVersion struct {
	VersionNumber       int        `json:"version_number"`
	IsLatest            bool       `json:"is_latest"`
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
	CreatedAt           time.Time  `json:"created_at"`
}

type VerificationResult struct {
	Incident         PublicIncident  `json:"incident"`
	RequestedVersion PublicVersion   `json:"requested_version"`
	CurrentVersion   PublicVersion   `json:"current_version"`
	IsCurrent        bool            `json:"is_current"`
	History          []PublicVersion `json:"history"`
	TotalVersions    int             `json:"total_versions"`
}

// Resolver answers anonymous token lookups. Any token, old or current, shows the
// incident as it stands now together with its whole history.
type Resolver struct {
	store   store.IncidentsStore
	logger  *slog.Logger
	metrics *Metrics
}

func NewResolver(st store.IncidentsStore, logger *slog.Logger, metrics *Metrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: st, logger: logger, metrics: metrics}
}

func (r *Resolver) Resolve(ctx context.Context, token string) (*VerificationResult, error) {
	defer r.metrics.observe("verify", time.Now())
	if !wellFormedToken(token) {
		r.metrics.verification(OutcomeMalformed)
		return nil, ErrNotFound
	}
	res, err := r.resolve(ctx, token)
	switch {
	case err == nil:
		r.metrics.verification(OutcomeFound)
		r.logger.Debug("token verified", "token_fp", TokenFingerprint(token), "is_current", res.IsCurrent)
	case errors.Is(err, ErrNotFound):
		r.metrics.verification(OutcomeNotFound)
		r.logger.Debug("token not found", "token_fp", TokenFingerprint(token))
	default:
		r.metrics.verification(OutcomeError)
		r.logger.Error("token verification failed", "token_fp", TokenFingerprint(token), "error", err)
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, token string) (*VerificationResult, error) {
	requested, err := r.store.GetVersionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if requested == nil {
		return nil, ErrNotFound
	}
	incident, err := r.store.GetIncident(ctx, requested.IncidentID)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		// deleted between the two reads
		return nil, ErrNotFound
	}
	versions, err := r.store.ListVersions(ctx, incident.ID)
	if err != nil {
		return nil, err
	}
	if err := checkChain(r.logger, r.metrics, "verify", incident.ID, versions); err != nil {
		return nil, err
	}
	res := &VerificationResult{
		Incident: PublicIncident{
			InternalID: incident.InternalID,
			CreatedAt:  incident.CreatedAt,
			UpdatedAt:  incident.UpdatedAt,
		},
		CurrentVersion: publicVersion(versions[0]),
		History:        make([]PublicVersion, 0, len(versions)),
		TotalVersions:  len(versions),
	}
	res.RequestedVersion = publicVersion(*requested)
	for _, v := range versions {
		pv := publicVersion(v)
		if v.ID == requested.ID {
			res.RequestedVersion = pv
		}
		res.History = append(res.History, pv)
	}
	res.IsCurrent = requested.ID == versions[0].ID
	return res, nil
}

func publicVersion(v store.IncidentVersion) PublicVersion {
	categories := v.DataCategories
	if categories == nil {
		categories = []string{}
	}
	return PublicVersion{
		VersionNumber:       v.VersionNumber,
		IsLatest:            v.IsLatest,
		DetectedAt:          v.DetectedAt,
		Description:         v.Description,
		IncidentType:        v.IncidentType,
		DataCategories:      categories,
		AffectedSubjects:    v.AffectedSubjects,
		Consequences:        v.Consequences,
		MeasuresTaken:       v.MeasuresTaken,
		ResolvedAt:          v.ResolvedAt,
		RegulatorNotified:   v.RegulatorNotified,
		RegulatorNotifiedAt: v.RegulatorNotifiedAt,
		SubjectsNotified:    v.SubjectsNotified,
		SubjectsNotifiedAt:  v.SubjectsNotifiedAt,
		CreatedAt:           v.CreatedAt,
	}
}
