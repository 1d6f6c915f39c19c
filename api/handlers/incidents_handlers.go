package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"incident-registry/config"
	"incident-registry/core/auth"
	"incident-registry/core/incidents"
	"incident-registry/core/store"
)

type IncidentsHandler struct {
	cfg      *config.AppConfig
	registry *incidents.Registry
	stats    *incidents.StatsAggregator
	logger   *slog.Logger
}

func NewIncidentsHandler(cfg *config.AppConfig, registry *incidents.Registry, stats *incidents.StatsAggregator, logger *slog.Logger) *IncidentsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IncidentsHandler{cfg: cfg, registry: registry, stats: stats, logger: logger}
}

type incidentPayload struct {
	DetectionDate       *string  `json:"detection_date"`
	Description         string   `json:"description"`
	IncidentType        string   `json:"incident_type"`
	DataCategories      []string `json:"data_categories"`
	AffectedSubjects    int      `json:"affected_subjects"`
	Consequences        string   `json:"consequences"`
	MeasuresTaken       string   `json:"measures_taken"`
	ResolutionDate      *string  `json:"resolution_date"`
	RegulatorNotified   bool     `json:"regulator_notified"`
	RegulatorNotifiedAt *string  `json:"regulator_notified_at"`
	SubjectsNotified    bool     `json:"subjects_notified"`
	SubjectsNotifiedAt  *string  `json:"subjects_notified_at"`
	InternalNotes       string   `json:"internal_notes"`
}

func (p incidentPayload) content() (store.IncidentContent, error) {
	c := store.IncidentContent{
		Description:       p.Description,
		IncidentType:      p.IncidentType,
		DataCategories:    p.DataCategories,
		AffectedSubjects:  p.AffectedSubjects,
		Consequences:      p.Consequences,
		MeasuresTaken:     p.MeasuresTaken,
		RegulatorNotified: p.RegulatorNotified,
		SubjectsNotified:  p.SubjectsNotified,
		InternalNotes:     p.InternalNotes,
	}
	dates := []struct {
		name string
		raw  *string
		dst  **time.Time
	}{
		{"detection_date", p.DetectionDate, &c.DetectedAt},
		{"resolution_date", p.ResolutionDate, &c.ResolvedAt},
		{"regulator_notified_at", p.RegulatorNotifiedAt, &c.RegulatorNotifiedAt},
		{"subjects_notified_at", p.SubjectsNotifiedAt, &c.SubjectsNotifiedAt},
	}
	for _, d := range dates {
		ts, err := parseOptionalTime(d.raw)
		if err != nil {
			return c, fmt.Errorf("%w: %s is not a valid date", incidents.ErrInvalidContent, d.name)
		}
		*d.dst = ts
	}
	return c, nil
}

type incidentListItem struct {
	IncidentID   string                `json:"incident_id"`
	InternalID   int64                 `json:"internal_id"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	Latest       store.IncidentVersion `json:"latest"`
	VersionCount int                   `json:"version_count"`
}

func (h *IncidentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload incidentPayload
	if !decodeJSON(w, r, h.maxBody(), &payload) {
		return
	}
	content, err := payload.content()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	incident, version, err := h.registry.CreateIncident(r.Context(), p.OrganizationID, content, p.ActorID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{
		"incident_id":    incident.ID,
		"internal_id":    incident.InternalID,
		"token":          version.Token,
		"version_number": version.VersionNumber,
	})
}

func (h *IncidentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload incidentPayload
	if !decodeJSON(w, r, h.maxBody(), &payload) {
		return
	}
	content, err := payload.content()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	_, version, err := h.registry.UpdateIncident(r.Context(), urlParam(r, "id"), p.OrganizationID, content, p.ActorID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"token":          version.Token,
		"version_number": version.VersionNumber,
	})
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	summaries, err := h.registry.GetOrganizationIncidents(r.Context(), p.OrganizationID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	items := make([]incidentListItem, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, incidentListItem{
			IncidentID:   s.Incident.ID,
			InternalID:   s.Incident.InternalID,
			CreatedAt:    s.Incident.CreatedAt,
			UpdatedAt:    s.Incident.UpdatedAt,
			Latest:       s.Latest,
			VersionCount: s.VersionCount,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *IncidentsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	stats, err := h.stats.Compute(r.Context(), p.OrganizationID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func (h *IncidentsHandler) History(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	entries, err := h.registry.GetHistory(r.Context(), urlParam(r, "id"), p.OrganizationID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *IncidentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := strings.TrimSpace(urlParam(r, "id"))
	if err := h.registry.DeleteIncident(r.Context(), id, p.OrganizationID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Info("incident deleted via api", "incident_id", id, "actor", p.ActorID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *IncidentsHandler) maxBody() int64 {
	if h.cfg == nil {
		return 0
	}
	return h.cfg.HTTP.MaxBodyBytes
}
