package incidents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/uuid/v5"

	"incident-registry/core/store"
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 10 * time.Millisecond
	maxRetryDelay      = 500 * time.Millisecond
)

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = defaultBaseDelay
	}
	b.MaxInterval = maxRetryDelay
	b.MaxElapsedTime = 0
	return b
}

// VersionChain is the only writer of incident versions. It keeps version numbers
// gapless and exactly one version flagged latest per incident.
type VersionChain struct {
	store   store.IncidentsStore
	tokens  TokenGenerator
	logger  *slog.Logger
	metrics *Metrics
	retry   RetryPolicy
	now     func() time.Time
}

func NewVersionChain(st store.IncidentsStore, tokens TokenGenerator, retry RetryPolicy, logger *slog.Logger, metrics *Metrics) *VersionChain {
	if tokens == nil {
		tokens = RandomTokens{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VersionChain{
		store:   st,
		tokens:  tokens,
		logger:  logger,
		metrics: metrics,
		retry:   retry,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateFirstVersion writes version 1 of a freshly inserted incident inside the
// caller's unit of work.
func (c *VersionChain) CreateFirstVersion(ctx context.Context, tx store.IncidentsTx, incidentID string, content store.IncidentContent, actor string, at time.Time) (*store.IncidentVersion, error) {
	content, err := prepareContent(content)
	if err != nil {
		return nil, err
	}
	token, err := c.tokens.Generate()
	if err != nil {
		return nil, err
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	v := &store.IncidentVersion{
		ID:              id,
		IncidentID:      incidentID,
		VersionNumber:   1,
		IsLatest:        true,
		Token:           token,
		IncidentContent: content,
		CreatedBy:       actor,
		CreatedAt:       at.UTC(),
	}
	if err := tx.InsertVersion(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// CreateNextVersion appends a version to the chain of incidentID. The incident row is
// locked first, so concurrent writers of one incident queue up behind each other;
// whatever still races (driver-level busy or unique violations) reruns the whole unit.
func (c *VersionChain) CreateNextVersion(ctx context.Context, incidentID, organizationID string, content store.IncidentContent, actor string) (*store.Incident, *store.IncidentVersion, error) {
	content, err := prepareContent(content)
	if err != nil {
		return nil, nil, err
	}
	var (
		incident *store.Incident
		version  *store.IncidentVersion
	)
	err = c.withRetry(ctx, "update", func() error {
		return c.store.RunInTx(ctx, func(ctx context.Context, tx store.IncidentsTx) error {
			now := c.now()
			locked, err := tx.LockIncident(ctx, incidentID, now)
			if err != nil {
				return err
			}
			if locked == nil {
				return ErrNotFound
			}
			if locked.OrganizationID != organizationID {
				return forbidden(c.logger, "update", locked, organizationID)
			}
			latest, err := tx.LatestVersions(ctx, incidentID)
			if err != nil {
				return err
			}
			if len(latest) != 1 {
				return reportFault(c.logger, c.metrics, &ConsistencyError{
					IncidentID:  incidentID,
					Op:          "update",
					LatestCount: len(latest),
				})
			}
			current := latest[0]
			if err := tx.ClearLatest(ctx, current.ID); err != nil {
				return err
			}
			token, err := c.tokens.Generate()
			if err != nil {
				return err
			}
			id, err := newID()
			if err != nil {
				return err
			}
			next := &store.IncidentVersion{
				ID:              id,
				IncidentID:      incidentID,
				VersionNumber:   current.VersionNumber + 1,
				IsLatest:        true,
				Token:           token,
				IncidentContent: content,
				CreatedBy:       actor,
				CreatedAt:       now,
			}
			if err := tx.InsertVersion(ctx, next); err != nil {
				return err
			}
			incident, version = locked, next
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	c.metrics.versionCreated("next")
	c.logger.Info("incident version created",
		"incident_id", incidentID,
		"version", version.VersionNumber,
		"token_fp", TokenFingerprint(version.Token),
		"actor", actor,
	)
	return incident, version, nil
}

// withRetry reruns fn while it fails with store.ErrConflict, up to the policy's
// attempt count. Any other error stops immediately.
func (c *VersionChain) withRetry(ctx context.Context, op string, fn func() error) error {
	maxAttempts := c.retry.attempts()
	attempt := 0
	operation := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return backoff.Permanent(err)
		}
		if attempt < maxAttempts {
			c.metrics.conflictRetry()
			c.logger.Debug("incident write conflict, retrying", "op", op, "attempt", attempt, "error", err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.retry.newBackOff(), uint64(maxAttempts-1)), ctx)
	err := backoff.Retry(operation, policy)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrConflict) {
		c.logger.Warn("incident write conflict retries exhausted", "op", op, "attempts", attempt)
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrConflictRetryExhausted, op, attempt, err)
	}
	return err
}

func newID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// reportFault logs a broken chain as an alert and counts it. Nothing is repaired.
func reportFault(logger *slog.Logger, metrics *Metrics, fault *ConsistencyError) error {
	metrics.consistencyFault(fault.Op)
	logger.Error("incident version chain fault",
		"alert", true,
		"incident_id", fault.IncidentID,
		"op", fault.Op,
		"latest_count", fault.LatestCount,
		"detail", fault.Detail,
	)
	return fault
}

func forbidden(logger *slog.Logger, op string, incident *store.Incident, organizationID string) error {
	logger.Warn("forbidden",
		"op", op,
		"incident_id", incident.ID,
		"owner_organization_id", incident.OrganizationID,
		"request_organization_id", organizationID,
	)
	return ErrForbidden
}

// checkChain validates a full history ordered newest first.
func checkChain(logger *slog.Logger, metrics *Metrics, op, incidentID string, versions []store.IncidentVersion) error {
	if len(versions) == 0 {
		return reportFault(logger, metrics, &ConsistencyError{IncidentID: incidentID, Op: op, Detail: "no versions"})
	}
	latest := 0
	for _, v := range versions {
		if v.IsLatest {
			latest++
		}
	}
	if latest != 1 {
		return reportFault(logger, metrics, &ConsistencyError{IncidentID: incidentID, Op: op, LatestCount: latest})
	}
	if !versions[0].IsLatest {
		return reportFault(logger, metrics, &ConsistencyError{
			IncidentID:  incidentID,
			Op:          op,
			LatestCount: latest,
			Detail:      fmt.Sprintf("latest flag is not on max version %d", versions[0].VersionNumber),
		})
	}
	for i, v := range versions {
		if want := len(versions) - i; v.VersionNumber != want {
			return reportFault(logger, metrics, &ConsistencyError{
				IncidentID:  incidentID,
				Op:          op,
				LatestCount: latest,
				Detail:      fmt.Sprintf("version %d found where %d expected", v.VersionNumber, want),
			})
		}
	}
	return nil
}

// checkSummaries validates the per-incident heads returned by a listing.
func checkSummaries(logger *slog.Logger, metrics *Metrics, op string, items []store.IncidentSummary) error {
	for _, item := range items {
		if item.LatestCount != 1 {
			return reportFault(logger, metrics, &ConsistencyError{
				IncidentID:  item.Incident.ID,
				Op:          op,
				LatestCount: item.LatestCount,
				Detail:      fmt.Sprintf("%d versions", item.VersionCount),
			})
		}
		if !item.Latest.IsLatest {
			return reportFault(logger, metrics, &ConsistencyError{
				IncidentID:  item.Incident.ID,
				Op:          op,
				LatestCount: item.LatestCount,
				Detail:      fmt.Sprintf("latest flag is not on max version %d", item.Latest.VersionNumber),
			})
		}
	}
	return nil
}
