//go:build integration

package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"incident-registry/config"
	"incident-registry/core/store"
	"incident-registry/core/utils"
)

type PostgresStoreSuite struct {
	suite.Suite
	container *postgres.PostgresContainer
	db        *store.DB
	st        store.IncidentsStore
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("incidents"),
		postgres.WithUsername("incidents"),
		postgres.WithPassword("incidents"),
		postgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	logger := utils.NopLogger()
	db, err := store.NewDB(&config.AppConfig{DBDriver: "postgres", DBURL: dsn}, logger)
	s.Require().NoError(err)
	s.Require().NoError(store.ApplyMigrations(ctx, db, logger))
	s.db = db
	s.st = store.NewIncidentsStore(db, 10*time.Second)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		_ = testcontainers.TerminateContainer(s.container)
	}
}

func (s *PostgresStoreSuite) createIncident(id, org string) *store.Incident {
	var inc *store.Incident
	err := s.st.RunInTx(context.Background(), func(ctx context.Context, tx store.IncidentsTx) error {
		internalID, err := tx.NextInternalID(ctx, org)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		inc = &store.Incident{ID: id, OrganizationID: org, InternalID: internalID, CreatedAt: now, UpdatedAt: now}
		if err := tx.InsertIncident(ctx, inc); err != nil {
			return err
		}
		return tx.InsertVersion(ctx, &store.IncidentVersion{
			ID: id + "-1", IncidentID: id, VersionNumber: 1, IsLatest: true, Token: id + "-tok-1", CreatedBy: "it", CreatedAt: now,
		})
	})
	s.Require().NoError(err)
	return inc
}

// appendVersion retries on conflicts the way the chain manager does.
func (s *PostgresStoreSuite) appendVersion(incidentID string, worker int) error {
	for attempt := 0; attempt < 20; attempt++ {
		err := s.st.RunInTx(context.Background(), func(ctx context.Context, tx store.IncidentsTx) error {
			if _, err := tx.LockIncident(ctx, incidentID, time.Now()); err != nil {
				return err
			}
			latest, err := tx.LatestVersions(ctx, incidentID)
			if err != nil {
				return err
			}
			if len(latest) != 1 {
				return fmt.Errorf("latest count %d", len(latest))
			}
			if err := tx.ClearLatest(ctx, latest[0].ID); err != nil {
				return err
			}
			next := latest[0].VersionNumber + 1
			return tx.InsertVersion(ctx, &store.IncidentVersion{
				ID:            fmt.Sprintf("%s-%d", incidentID, next),
				IncidentID:    incidentID,
				VersionNumber: next,
				IsLatest:      true,
				Token:         fmt.Sprintf("%s-tok-%d-w%d", incidentID, next, worker),
				CreatedBy:     "it",
				CreatedAt:     time.Now().UTC(),
			})
		})
		if errors.Is(err, store.ErrConflict) {
			time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
			continue
		}
		return err
	}
	return store.ErrConflict
}

func (s *PostgresStoreSuite) TestConcurrentAppendsKeepChainGapless() {
	s.createIncident("pg-concurrent", "org-pg")
	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.appendVersion("pg-concurrent", i)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	versions, err := s.st.ListVersions(context.Background(), "pg-concurrent")
	s.Require().NoError(err)
	s.Require().Len(versions, workers+1)
	latest := 0
	for i, v := range versions {
		s.Equal(workers+1-i, v.VersionNumber)
		if v.IsLatest {
			latest++
			s.Equal(workers+1, v.VersionNumber)
		}
	}
	s.Equal(1, latest)

	faults, err := s.st.ListChainFaults(context.Background())
	s.Require().NoError(err)
	s.Empty(faults)
}

func (s *PostgresStoreSuite) TestConcurrentCreatesGetDistinctInternalIDs() {
	const workers = 6
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[int64]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inc := s.createIncident(fmt.Sprintf("pg-create-%d", i), "org-pg-create")
			mu.Lock()
			ids[inc.InternalID] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	s.Len(ids, workers)
	for i := int64(1); i <= workers; i++ {
		s.True(ids[i], "internal id %d", i)
	}
}

func (s *PostgresStoreSuite) TestSecondLatestRejected() {
	s.createIncident("pg-latest", "org-pg")
	err := s.st.RunInTx(context.Background(), func(ctx context.Context, tx store.IncidentsTx) error {
		return tx.InsertVersion(ctx, &store.IncidentVersion{
			ID: "pg-latest-2", IncidentID: "pg-latest", VersionNumber: 2, IsLatest: true, Token: "pg-latest-tok-2", CreatedBy: "it", CreatedAt: time.Now(),
		})
	})
	s.ErrorIs(err, store.ErrConflict)
}
