package recognition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camden-git/facesentry/models"
	"github.com/camden-git/facesentry/repository"
	"go.uber.org/zap"
)

// KnownIdentity is one enrolled person with all of their encodings.
type KnownIdentity struct {
	PersonName string
	Encodings  [][]float32
	EnrolledAt time.Time
}

// Enroller supplies the known identities in enrollment order.
type Enroller interface {
	Load(ctx context.Context) ([]KnownIdentity, error)
}

type snapshot struct {
	identities []KnownIdentity
	encodings  int
	loadedAt   time.Time
}

// EncodingStore holds the active identity snapshot and the watchlist.
// Lookups read whichever snapshot is current without locking; reloads swap it atomically.
type EncodingStore struct {
	threshold float64
	enroller  Enroller
	watchRepo repository.WatchlistRepositoryInterface
	logger    *zap.Logger

	current   atomic.Pointer[snapshot]
	watchlist atomic.Pointer[map[string]models.WatchlistEntry]

	reloadMu sync.Mutex
	watchMu  sync.Mutex
}

// NewEncodingStore creates an empty store. Matches require a distance below threshold.
func NewEncodingStore(threshold float64, enroller Enroller, watchRepo repository.WatchlistRepositoryInterface, logger *zap.Logger) *EncodingStore {
	s := &EncodingStore{
		threshold: threshold,
		enroller:  enroller,
		watchRepo: watchRepo,
		logger:    logger.Named("recognition"),
	}
	s.current.Store(&snapshot{})
	empty := map[string]models.WatchlistEntry{}
	s.watchlist.Store(&empty)
	return s
}

// Reload re-reads the enrollment source and swaps the active snapshot. On failure
// the previous snapshot stays active and an ErrReload is returned.
func (s *EncodingStore) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	identities, err := s.enroller.Load(ctx)
	if err != nil {
		s.logger.Error("encoding reload failed, keeping previous snapshot", zap.Error(err))
		return fmt.Errorf("%w: %w", models.ErrReload, err)
	}

	next := &snapshot{loadedAt: time.Now()}
	for _, id := range identities {
		if id.PersonName == "" || len(id.Encodings) == 0 {
			continue
		}
		next.identities = append(next.identities, id)
		next.encodings += len(id.Encodings)
	}
	s.current.Store(next)
	s.logger.Info("encodings loaded", zap.Int("people", len(next.identities)), zap.Int("encodings", next.encodings))
	return nil
}

// Lookup returns the closest enrolled identity when its distance is below the
// threshold. Exact ties go to the identity enrolled first.
func (s *EncodingStore) Lookup(encoding []float32) models.Match {
	snap := s.current.Load()
	best := math.Inf(1)
	bestName := ""
	for _, id := range snap.identities {
		for _, known := range id.Encodings {
			if len(known) != len(encoding) {
				continue
			}
			if d := Distance(known, encoding); d < best {
				best = d
				bestName = id.PersonName
			}
		}
	}

	if bestName == "" || best >= s.threshold {
		m := models.Match{PersonName: models.UnknownPerson}
		if !math.IsInf(best, 1) {
			m.Distance = best
		}
		return m
	}
	return models.Match{
		PersonName: bestName,
		Known:      true,
		Confidence: math.Max(0, math.Min(1, 1-best)),
		Distance:   best,
	}
}

// KnownPeople returns the number of identities in the active snapshot.
func (s *EncodingStore) KnownPeople() int {
	return len(s.current.Load().identities)
}

// TotalEncodings returns the number of encodings in the active snapshot.
func (s *EncodingStore) TotalEncodings() int {
	return s.current.Load().encodings
}

// People returns the enrolled person names in enrollment order.
func (s *EncodingStore) People() []string {
	snap := s.current.Load()
	names := make([]string, len(snap.identities))
	for i, id := range snap.identities {
		names[i] = id.PersonName
	}
	return names
}

// LoadedAt returns when the active snapshot was built.
func (s *EncodingStore) LoadedAt() time.Time {
	return s.current.Load().loadedAt
}

// LoadWatchlist replaces the in-memory watchlist with the persisted one.
func (s *EncodingStore) LoadWatchlist() error {
	entries, err := s.watchRepo.ListAll()
	if err != nil {
		return err
	}
	next := make(map[string]models.WatchlistEntry, len(entries))
	for _, e := range entries {
		next[watchKey(e.PersonName)] = e
	}

	s.watchMu.Lock()
	s.watchlist.Store(&next)
	s.watchMu.Unlock()
	s.logger.Info("watchlist loaded", zap.Int("entries", len(next)))
	return nil
}

// IsWatchlisted returns the threat level of a watchlisted person.
func (s *EncodingStore) IsWatchlisted(personName string) (models.ThreatLevel, bool) {
	entry, ok := (*s.watchlist.Load())[watchKey(personName)]
	if !ok {
		return "", false
	}
	return entry.ThreatLevel, true
}

// Watchlist returns all entries ordered by person name.
func (s *EncodingStore) Watchlist() []models.WatchlistEntry {
	current := *s.watchlist.Load()
	entries := make([]models.WatchlistEntry, 0, len(current))
	for _, e := range current {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].PersonName < entries[j].PersonName })
	return entries
}

// WatchlistCount returns the number of watchlisted people.
func (s *EncodingStore) WatchlistCount() int {
	return len(*s.watchlist.Load())
}

// UpsertWatchlist adds or replaces a watchlist entry. The last write wins.
func (s *EncodingStore) UpsertWatchlist(entry models.WatchlistEntry) (models.WatchlistEntry, error) {
	entry.PersonName = strings.TrimSpace(entry.PersonName)
	if entry.PersonName == "" {
		return models.WatchlistEntry{}, fmt.Errorf("%w: person name is required", models.ErrInvalidConfig)
	}
	level, err := models.ParseThreatLevel(string(entry.ThreatLevel))
	if err != nil {
		return models.WatchlistEntry{}, err
	}
	entry.ThreatLevel = level
	entry.AddedAt = time.Now().Unix()

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if err := s.watchRepo.Upsert(&entry); err != nil {
		return models.WatchlistEntry{}, err
	}
	next := s.copyWatchlist()
	next[watchKey(entry.PersonName)] = entry
	s.watchlist.Store(&next)
	s.logger.Info("watchlist entry saved", zap.String("person", entry.PersonName), zap.String("threat_level", string(level)))
	return entry, nil
}

// DeleteWatchlist removes a person from the watchlist.
func (s *EncodingStore) DeleteWatchlist(personName string) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	err := s.watchRepo.Delete(personName)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	next := s.copyWatchlist()
	_, known := next[watchKey(personName)]
	delete(next, watchKey(personName))
	s.watchlist.Store(&next)
	if err != nil && !known {
		return err
	}
	return nil
}

func (s *EncodingStore) copyWatchlist() map[string]models.WatchlistEntry {
	current := *s.watchlist.Load()
	next := make(map[string]models.WatchlistEntry, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	return next
}

func watchKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Distance is the Euclidean distance between two encodings of equal length.
func Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
