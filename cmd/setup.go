package cmd

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/database/postgres"
	"github.com/kozaktomas/face-registry/internal/identity"
	"github.com/kozaktomas/face-registry/internal/photoprism"
)

// registryRepos bundles the PostgreSQL repositories shared by the CLI commands.
type registryRepos struct {
	detections *postgres.DetectionRepository
	persons    *postgres.PersonRepository
	identities *postgres.IdentityRepository
	proposals  *postgres.ProposalRepository
	sessions   *postgres.SessionRepository
}

// openRegistry connects to PostgreSQL and registers the storage backend
// so that repository lookups work throughout the process.
func openRegistry(cfg *config.Config, quiet bool) (*registryRepos, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	if !quiet {
		fmt.Printf("Connecting to PostgreSQL database...\n")
	}
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	pool := postgres.GetGlobalPool()
	repos := &registryRepos{
		detections: postgres.NewDetectionRepository(pool),
		persons:    postgres.NewPersonRepository(pool),
		identities: postgres.NewIdentityRepository(pool),
		proposals:  postgres.NewProposalRepository(pool),
		sessions:   postgres.NewSessionRepository(pool),
	}

	database.RegisterPostgresBackend(
		func() database.DetectionReader { return repos.detections },
		func() database.DetectionWriter { return repos.detections },
		func() database.PersonWriter { return repos.persons },
		func() database.IdentityWriter { return repos.identities },
		func() database.ProposalWriter { return repos.proposals },
	)
	database.RegisterDetectionHNSWRebuilder(repos.detections)

	return repos, nil
}

// buildEngine wires the identity engine on top of the repositories and
// registers it as the process-wide default.
func (r *registryRepos) buildEngine(cfg *config.Config) *identity.Engine {
	engine := identity.New(r.detections, r.persons, r.identities, r.proposals, cfg.Matching, cfg.Detector.Dim)
	identity.Register(engine)
	return engine
}

// connectPhotoPrism logs into the configured PhotoPrism instance,
// honoring the --capture flag for recording API responses.
func connectPhotoPrism(cfg *config.Config) (*photoprism.PhotoPrism, error) {
	if cfg.PhotoPrism.URL == "" {
		return nil, errors.New("PHOTOPRISM_URL environment variable is required")
	}

	if captureDir != "" {
		return photoprism.NewPhotoPrismWithCapture(cfg.PhotoPrism.URL, cfg.PhotoPrism.Username, cfg.PhotoPrism.Password, captureDir)
	}
	return photoprism.NewPhotoPrism(cfg.PhotoPrism.URL, cfg.PhotoPrism.Username, cfg.PhotoPrism.Password)
}
