// Package rag routes project indexing and retrieval to the vector store of
// the user's tier and drives tier upgrades and migrations.
//
// Routing is a pure conditional on the cached tier: premium users go to the
// premium store, everyone else to the standard one.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/creastat/console"
	"github.com/creastat/console/access"
	"github.com/creastat/console/auth"
	"github.com/creastat/console/logging"
	"github.com/creastat/console/notify"
	"github.com/creastat/console/supabase"
	"github.com/creastat/console/vectorstore"
	"go.uber.org/zap"
)

const (
	fnUpgrade = "rag-upgrade"
	fnMigrate = "rag-migrate"

	// DefaultMigrationThreshold is the usage ratio above which migrating to
	// premium is recommended.
	DefaultMigrationThreshold = 0.85

	defaultSearchLimit = 5
)

// ErrVectorLimit is returned when indexing would exceed the tier's vector limit.
var ErrVectorLimit = errors.New("rag: vector limit reached")

// Service is the signed-in user's RAG tier and vector access.
type Service struct {
	table     supabase.RAGTable
	functions supabase.Functions
	checker   access.Checker
	identity  auth.Source
	standard  vectorstore.Store
	premium   vectorstore.Store
	threshold float64
	chunkSize int
	notifier  notify.Notifier
	logger    *logging.Logger

	mu    sync.RWMutex
	state *console.RAGTierState
}

// Option configures a Service.
type Option func(*Service)

// WithMigrationThreshold sets the usage ratio that triggers the migration advisory.
func WithMigrationThreshold(t float64) Option {
	return func(s *Service) {
		if t > 0 && t <= 1 {
			s.threshold = t
		}
	}
}

// WithChunkSize sets the chunk length used when documents are indexed locally.
func WithChunkSize(n int) Option {
	return func(s *Service) { s.chunkSize = n }
}

// WithNotifier sets where user-facing failures are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service. standard and premium serve the respective tiers.
func New(table supabase.RAGTable, functions supabase.Functions, checker access.Checker, identity auth.Source, standard, premium vectorstore.Store, opts ...Option) *Service {
	s := &Service{
		table:     table,
		functions: functions,
		checker:   checker,
		identity:  identity,
		standard:  standard,
		premium:   premium,
		threshold: DefaultMigrationThreshold,
		chunkSize: vectorstore.DefaultChunkSize,
		notifier:  notify.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("rag")
	return s
}

// Refresh re-reads the tier state of the signed-in user.
func (s *Service) Refresh(ctx context.Context) (console.RAGTierState, error) {
	userID, err := s.identity.UserID()
	if err != nil {
		return console.RAGTierState{}, err
	}
	state, err := s.table.GetRAGTier(ctx, userID)
	if err != nil {
		return console.RAGTierState{}, s.fail(ctx, "Could not load RAG tier", "load tier", err)
	}
	if state.Tier == "" {
		state.Tier = console.TierStandard
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return *state, nil
}

// State returns the cached tier state and whether it has been loaded.
func (s *Service) State() (console.RAGTierState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return console.RAGTierState{}, false
	}
	return *s.state, true
}

// CanUsePremiumRAG reports whether the cached tier is premium.
func (s *Service) CanUsePremiumRAG() bool {
	state, ok := s.State()
	return ok && state.Tier == console.TierPremium
}

// ShouldMigrateToPremium reports whether a standard-tier user has used more
// than the threshold of their vector allowance. It is advisory only.
func (s *Service) ShouldMigrateToPremium() bool {
	state, ok := s.State()
	if !ok || state.Tier == console.TierPremium {
		return false
	}
	return state.Usage() > s.threshold
}

// store returns the vector store for the cached tier.
func (s *Service) store() (vectorstore.Store, console.Tier) {
	if s.CanUsePremiumRAG() {
		return s.premium, console.TierPremium
	}
	return s.standard, console.TierStandard
}

// ensureState loads the tier on first use.
func (s *Service) ensureState(ctx context.Context) error {
	if _, ok := s.State(); ok {
		return nil
	}
	_, err := s.Refresh(ctx)
	return err
}

// IndexProject indexes a project into the tier's store and returns the
// number of vectors written. Stores that index server-side are asked to do
// so; otherwise the project documents are read, chunked and upserted.
func (s *Service) IndexProject(ctx context.Context, projectID string) (int, error) {
	if err := s.checker.Require(ctx, access.CapManageRAG); err != nil {
		return 0, err
	}
	if strings.TrimSpace(projectID) == "" {
		return 0, fmt.Errorf("%w: project id is required", console.ErrValidation)
	}
	if err := s.ensureState(ctx); err != nil {
		return 0, err
	}
	store, tier := s.store()
	log := s.logger.With(zap.String("project_id", projectID), zap.String("tier", string(tier)))

	var (
		n   int
		err error
	)
	if indexer, ok := store.(vectorstore.ProjectIndexer); ok {
		n, err = indexer.IndexProject(ctx, projectID)
	} else {
		n, err = s.indexLocally(ctx, store, projectID)
	}
	observe("index", tier, err)
	if err != nil {
		if errors.Is(err, ErrVectorLimit) {
			return 0, err
		}
		log.Error(ctx, "index project failed", zap.Error(err))
		notify.Error(ctx, s.notifier, "Indexing failed", err)
		return 0, fmt.Errorf("index project %s: %w", projectID, err)
	}
	log.Info(ctx, "indexed project", zap.Int("vectors", n))

	if _, err := s.Refresh(ctx); err != nil {
		log.Warn(ctx, "tier refresh after indexing failed", zap.Error(err))
	}
	return n, nil
}

func (s *Service) indexLocally(ctx context.Context, store vectorstore.Store, projectID string) (int, error) {
	docs, err := s.table.ListProjectDocuments(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("list project documents: %w", err)
	}
	chunks := vectorstore.ChunkAll(docs, s.chunkSize)
	if len(chunks) == 0 {
		return 0, nil
	}

	state, _ := s.State()
	if limit := state.Limits.MaxVectors; limit > 0 && state.VectorCount+len(chunks) > limit {
		err := fmt.Errorf("%w: %d of %d vectors used, project needs %d", ErrVectorLimit, state.VectorCount, limit, len(chunks))
		notify.Error(ctx, s.notifier, "Vector limit reached", err)
		return 0, err
	}

	if err := store.Upsert(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

type searchOptions struct {
	projects []string
	limit    int
	minScore float32
}

// SearchOption narrows a search.
type SearchOption func(*searchOptions)

// InProjects restricts results to the given projects.
func InProjects(ids ...string) SearchOption {
	return func(o *searchOptions) { o.projects = append(o.projects, ids...) }
}

// Limit caps the number of results.
func Limit(n int) SearchOption {
	return func(o *searchOptions) {
		if n > 0 {
			o.limit = n
		}
	}
}

// MinScore drops results scoring below score.
func MinScore(score float32) SearchOption {
	return func(o *searchOptions) { o.minScore = score }
}

// Search queries the tier's store.
func (s *Service) Search(ctx context.Context, query string, opts ...SearchOption) ([]vectorstore.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: %w", console.ErrValidation, vectorstore.ErrEmptyQuery)
	}
	if err := s.ensureState(ctx); err != nil {
		return nil, err
	}
	o := searchOptions{limit: defaultSearchLimit}
	for _, opt := range opts {
		opt(&o)
	}

	store, tier := s.store()
	results, err := store.Search(ctx, query, vectorstore.SearchFilter{
		SourceIDs: o.projects,
		MinScore:  o.minScore,
	}, o.limit)
	observe("search", tier, err)
	if err != nil {
		return nil, s.fail(ctx, "Search failed", "search", err)
	}
	return results, nil
}

// UpgradeToRagPremium upgrades the user to the premium tier. It is a no-op
// for users who are already premium.
func (s *Service) UpgradeToRagPremium(ctx context.Context) error {
	if err := s.checker.Require(ctx, access.CapManageRAG); err != nil {
		return err
	}
	if err := s.ensureState(ctx); err != nil {
		return err
	}
	if s.CanUsePremiumRAG() {
		return nil
	}

	err := s.functions.Invoke(ctx, fnUpgrade, map[string]string{"tier": string(console.TierPremium)}, nil)
	observe("upgrade", console.TierStandard, err)
	if err != nil {
		return s.fail(ctx, "Upgrade failed", "upgrade tier", err)
	}
	state, err := s.Refresh(ctx)
	if err != nil {
		return err
	}
	if state.Tier == console.TierPremium {
		notify.Success(ctx, s.notifier, "Premium RAG enabled", "New projects are indexed into the premium store.")
	}
	return nil
}

type migrateResponse struct {
	Migrated int `json:"migrated"`
}

// MigrateToPremium moves existing standard-tier vectors into the premium
// store. The user must already be premium.
func (s *Service) MigrateToPremium(ctx context.Context) (int, error) {
	if err := s.checker.Require(ctx, access.CapManageRAG); err != nil {
		return 0, err
	}
	if err := s.ensureState(ctx); err != nil {
		return 0, err
	}
	if !s.CanUsePremiumRAG() {
		return 0, fmt.Errorf("%w: upgrade to premium before migrating", console.ErrValidation)
	}

	var out migrateResponse
	err := s.functions.Invoke(ctx, fnMigrate, map[string]string{
		"from": string(console.TierStandard),
		"to":   string(console.TierPremium),
	}, &out)
	observe("migrate", console.TierPremium, err)
	if err != nil {
		return 0, s.fail(ctx, "Migration failed", "migrate vectors", err)
	}
	s.logger.Info(ctx, "migrated vectors to premium", zap.Int("vectors", out.Migrated))

	if _, err := s.Refresh(ctx); err != nil {
		s.logger.Warn(ctx, "tier refresh after migration failed", zap.Error(err))
	}
	return out.Migrated, nil
}

// Reset forgets the cached tier.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
}

func (s *Service) fail(ctx context.Context, title, op string, err error) error {
	s.logger.Error(ctx, op+" failed", zap.Error(err))
	notify.Error(ctx, s.notifier, title, err)
	return fmt.Errorf("%s: %w", op, err)
}
