package incidents

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"incident-registry/core/store"
)

// Registry owns incident identity and per-organization numbering. Content changes go
// through the VersionChain.
type Registry struct {
	store   store.IncidentsStore
	chain   *VersionChain
	logger  *slog.Logger
	metrics *Metrics
}

func NewRegistry(st store.IncidentsStore, chain *VersionChain, logger *slog.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: st, chain: chain, logger: logger, metrics: metrics}
}

func (r *Registry) CreateIncident(ctx context.Context, organizationID string, content store.IncidentContent, actor string) (*store.Incident, *store.IncidentVersion, error) {
	defer r.metrics.observe("create", time.Now())
	if err := requireIdentity(organizationID, actor); err != nil {
		return nil, nil, err
	}
	if _, err := prepareContent(content); err != nil {
		return nil, nil, err
	}
	var (
		incident *store.Incident
		version  *store.IncidentVersion
	)
	err := r.chain.withRetry(ctx, "create", func() error {
		return r.store.RunInTx(ctx, func(ctx context.Context, tx store.IncidentsTx) error {
			now := r.chain.now()
			internalID, err := tx.NextInternalID(ctx, organizationID)
			if err != nil {
				return err
			}
			id, err := newID()
			if err != nil {
				return err
			}
			inc := &store.Incident{
				ID:             id,
				OrganizationID: organizationID,
				InternalID:     internalID,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.InsertIncident(ctx, inc); err != nil {
				return err
			}
			v, err := r.chain.CreateFirstVersion(ctx, tx, inc.ID, content, actor, now)
			if err != nil {
				return err
			}
			incident, version = inc, v
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	r.metrics.versionCreated("first")
	r.logger.Info("incident created",
		"incident_id", incident.ID,
		"organization_id", organizationID,
		"internal_id", incident.InternalID,
		"actor", actor,
	)
	return incident, version, nil
}

// UpdateIncident records content as the next version. An incident of another
// organization fails with ErrForbidden before anything is written.
func (r *Registry) UpdateIncident(ctx context.Context, incidentID, organizationID string, content store.IncidentContent, actor string) (*store.Incident, *store.IncidentVersion, error) {
	defer r.metrics.observe("update", time.Now())
	if err := requireIdentity(organizationID, actor); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(incidentID) == "" {
		return nil, nil, ErrNotFound
	}
	return r.chain.CreateNextVersion(ctx, incidentID, organizationID, content, actor)
}

// GetOrganizationIncidents lists the organization's incidents, newest internal id first.
func (r *Registry) GetOrganizationIncidents(ctx context.Context, organizationID string) ([]store.IncidentSummary, error) {
	defer r.metrics.observe("list", time.Now())
	if strings.TrimSpace(organizationID) == "" {
		return nil, invalidContent("organization id is required")
	}
	items, err := r.store.ListOrganizationIncidents(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if err := checkSummaries(r.logger, r.metrics, "list", items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.IncidentSummary{}
	}
	return items, nil
}

// GetIncidentWithHistory returns the incident and all of its versions, most recent first.
func (r *Registry) GetIncidentWithHistory(ctx context.Context, incidentID, organizationID string) (*store.Incident, []store.IncidentVersion, error) {
	defer r.metrics.observe("history", time.Now())
	incident, err := r.ownedIncident(ctx, "history", incidentID, organizationID)
	if err != nil {
		return nil, nil, err
	}
	versions, err := r.store.ListVersions(ctx, incident.ID)
	if err != nil {
		return nil, nil, err
	}
	if err := checkChain(r.logger, r.metrics, "history", incident.ID, versions); err != nil {
		return nil, nil, err
	}
	return incident, versions, nil
}

// GetHistory summarizes each version of the incident with the fields it changed.
func (r *Registry) GetHistory(ctx context.Context, incidentID, organizationID string) ([]HistoryEntry, error) {
	_, versions, err := r.GetIncidentWithHistory(ctx, incidentID, organizationID)
	if err != nil {
		return nil, err
	}
	return BuildHistory(versions), nil
}

// DeleteIncident removes the incident and every version of it. Internal ids are not
// handed out again.
func (r *Registry) DeleteIncident(ctx context.Context, incidentID, organizationID string) error {
	defer r.metrics.observe("delete", time.Now())
	if strings.TrimSpace(organizationID) == "" {
		return invalidContent("organization id is required")
	}
	if strings.TrimSpace(incidentID) == "" {
		return ErrNotFound
	}
	err := r.chain.withRetry(ctx, "delete", func() error {
		return r.store.RunInTx(ctx, func(ctx context.Context, tx store.IncidentsTx) error {
			locked, err := tx.LockIncident(ctx, incidentID, r.chain.now())
			if err != nil {
				return err
			}
			if locked == nil {
				return ErrNotFound
			}
			if locked.OrganizationID != organizationID {
				return forbidden(r.logger, "delete", locked, organizationID)
			}
			return tx.DeleteIncident(ctx, incidentID)
		})
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	r.logger.Info("incident deleted", "incident_id", incidentID, "organization_id", organizationID)
	return nil
}

func (r *Registry) ownedIncident(ctx context.Context, op, incidentID, organizationID string) (*store.Incident, error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, invalidContent("organization id is required")
	}
	if strings.TrimSpace(incidentID) == "" {
		return nil, ErrNotFound
	}
	incident, err := r.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, ErrNotFound
	}
	if incident.OrganizationID != organizationID {
		return nil, forbidden(r.logger, op, incident, organizationID)
	}
	return incident, nil
}
