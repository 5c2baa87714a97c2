package recognition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/camden-git/facesentry/models"
	"github.com/camden-git/facesentry/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubEnroller struct {
	identities []KnownIdentity
	err        error
}

func (s *stubEnroller) Load(context.Context) ([]KnownIdentity, error) {
	return s.identities, s.err
}

type memWatchRepo struct {
	mu      sync.Mutex
	entries map[string]models.WatchlistEntry
	failErr error
}

func newMemWatchRepo(entries ...models.WatchlistEntry) *memWatchRepo {
	r := &memWatchRepo{entries: map[string]models.WatchlistEntry{}}
	for _, e := range entries {
		r.entries[strings.ToLower(e.PersonName)] = e
	}
	return r
}

func (r *memWatchRepo) ListAll() ([]models.WatchlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WatchlistEntry
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out, nil
}

func (r *memWatchRepo) GetByName(name string) (*models.WatchlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[strings.ToLower(name)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &e, nil
}

func (r *memWatchRepo) Upsert(e *models.WatchlistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.entries[strings.ToLower(e.PersonName)] = *e
	return nil
}

func (r *memWatchRepo) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[strings.ToLower(name)]; !ok {
		return fmt.Errorf("watchlist entry %q: %w", name, models.ErrNotFound)
	}
	delete(r.entries, strings.ToLower(name))
	return nil
}

func TestEncodingStoreLookup(t *testing.T) {
	enroller := &stubEnroller{identities: []KnownIdentity{
		{PersonName: "alice", Encodings: [][]float32{{0, 0}, {1, 1}}},
		{PersonName: "bob", Encodings: [][]float32{{3, 0}}},
		{PersonName: "carol", Encodings: [][]float32{{3, 0}}},
		{PersonName: "empty"},
	}}
	s := NewEncodingStore(0.6, enroller, newMemWatchRepo(), zap.NewNop())

	m := s.Lookup([]float32{0.1, 0})
	assert.Equal(t, models.Match{PersonName: models.UnknownPerson}, m, "empty store")

	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, 3, s.KnownPeople())
	assert.Equal(t, 4, s.TotalEncodings())
	assert.Equal(t, []string{"alice", "bob", "carol"}, s.People())
	assert.False(t, s.LoadedAt().IsZero())

	m = s.Lookup([]float32{1, 0.9})
	assert.True(t, m.Known)
	assert.Equal(t, "alice", m.PersonName)
	assert.InDelta(t, 0.1, m.Distance, 1e-6)
	assert.InDelta(t, 0.9, m.Confidence, 1e-6)

	// exact ties go to the first enrolled identity
	m = s.Lookup([]float32{3, 0.2})
	assert.Equal(t, "bob", m.PersonName)

	m = s.Lookup([]float32{10, 10})
	assert.False(t, m.Known)
	assert.Equal(t, models.UnknownPerson, m.PersonName)
	assert.Greater(t, m.Distance, 0.6)

	// a distance equal to the threshold is not a match
	m = s.Lookup([]float32{0, 0.6})
	assert.False(t, m.Known)

	// mismatched dimensions never match
	m = s.Lookup([]float32{0, 0, 0})
	assert.False(t, m.Known)
	assert.Zero(t, m.Distance)
}

func TestEncodingStoreReloadFailureKeepsSnapshot(t *testing.T) {
	enroller := &stubEnroller{identities: []KnownIdentity{{PersonName: "alice", Encodings: [][]float32{{0, 0}}}}}
	s := NewEncodingStore(0.5, enroller, newMemWatchRepo(), zap.NewNop())
	require.NoError(t, s.Reload(context.Background()))
	loadedAt := s.LoadedAt()

	enroller.err = errors.New("directory vanished")
	err := s.Reload(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrReload))
	assert.Equal(t, 1, s.KnownPeople())
	assert.Equal(t, loadedAt, s.LoadedAt())
	assert.True(t, s.Lookup([]float32{0, 0}).Known)
}

func TestEncodingStoreConcurrentLookupDuringReload(t *testing.T) {
	enroller := &stubEnroller{identities: []KnownIdentity{{PersonName: "alice", Encodings: [][]float32{{0, 0}}}}}
	s := NewEncodingStore(0.5, enroller, newMemWatchRepo(), zap.NewNop())
	require.NoError(t, s.Reload(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				assert.Equal(t, "alice", s.Lookup([]float32{0, 0}).PersonName)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Reload(context.Background()))
	}
	wg.Wait()
}

func TestEncodingStoreWatchlist(t *testing.T) {
	repo := newMemWatchRepo(models.WatchlistEntry{PersonName: "Mallory", ThreatLevel: models.ThreatHigh})
	s := NewEncodingStore(0.5, &stubEnroller{}, repo, zap.NewNop())
	require.NoError(t, s.LoadWatchlist())

	level, ok := s.IsWatchlisted("mallory")
	require.True(t, ok)
	assert.Equal(t, models.ThreatHigh, level)
	_, ok = s.IsWatchlisted("alice")
	assert.False(t, ok)

	entry, err := s.UpsertWatchlist(models.WatchlistEntry{PersonName: " Eve ", ThreatLevel: "LOW"})
	require.NoError(t, err)
	assert.Equal(t, "Eve", entry.PersonName)
	assert.Equal(t, models.ThreatLow, entry.ThreatLevel)
	assert.NotZero(t, entry.AddedAt)
	assert.Equal(t, 2, s.WatchlistCount())

	_, err = s.UpsertWatchlist(models.WatchlistEntry{PersonName: "eve", ThreatLevel: models.ThreatHigh})
	require.NoError(t, err)
	level, _ = s.IsWatchlisted("EVE")
	assert.Equal(t, models.ThreatHigh, level)
	assert.Equal(t, 2, s.WatchlistCount())

	_, err = s.UpsertWatchlist(models.WatchlistEntry{PersonName: "trent", ThreatLevel: "severe"})
	assert.True(t, errors.Is(err, models.ErrInvalidConfig))
	_, err = s.UpsertWatchlist(models.WatchlistEntry{PersonName: "  ", ThreatLevel: models.ThreatLow})
	assert.True(t, errors.Is(err, models.ErrInvalidConfig))

	repo.failErr = errors.New("disk full")
	_, err = s.UpsertWatchlist(models.WatchlistEntry{PersonName: "trent", ThreatLevel: models.ThreatLow})
	assert.Error(t, err)
	_, ok = s.IsWatchlisted("trent")
	assert.False(t, ok)
	repo.failErr = nil

	names := []string{}
	for _, e := range s.Watchlist() {
		names = append(names, e.PersonName)
	}
	assert.Equal(t, []string{"Mallory", "eve"}, names)

	require.NoError(t, s.DeleteWatchlist("MALLORY"))
	_, ok = s.IsWatchlisted("mallory")
	assert.False(t, ok)
	assert.True(t, errors.Is(s.DeleteWatchlist("mallory"), models.ErrNotFound))
}

func TestEncodingStoreWatchlistNameCaseMatchesDatabase(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:watchlist_case?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.WatchlistEntry{}))
	repo := repository.NewWatchlistRepository(db)

	s := NewEncodingStore(0.5, &stubEnroller{}, repo, zap.NewNop())
	require.NoError(t, s.LoadWatchlist())

	_, err = s.UpsertWatchlist(models.WatchlistEntry{PersonName: "Bob", ThreatLevel: models.ThreatHigh})
	require.NoError(t, err)
	require.NoError(t, s.DeleteWatchlist("bob"))

	// a restart reloads from the database
	require.NoError(t, s.LoadWatchlist())
	_, listed := s.IsWatchlisted("Bob")
	assert.False(t, listed)

	_, err = s.UpsertWatchlist(models.WatchlistEntry{PersonName: "Bob", ThreatLevel: models.ThreatHigh})
	require.NoError(t, err)
	_, err = s.UpsertWatchlist(models.WatchlistEntry{PersonName: "bob", ThreatLevel: models.ThreatLow})
	require.NoError(t, err)

	rows, err := repo.ListAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, s.WatchlistCount())

	require.NoError(t, s.LoadWatchlist())
	level, listed := s.IsWatchlisted("BOB")
	assert.True(t, listed)
	assert.Equal(t, models.ThreatLow, level)
	assert.Equal(t, 1, s.WatchlistCount())
}

func TestDistance(t *testing.T) {
	assert.Equal(t, 5.0, Distance([]float32{0, 0}, []float32{3, 4}))
	assert.Zero(t, Distance([]float32{1, 2}, []float32{1, 2}))
}
