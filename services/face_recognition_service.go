package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/camden-git/facesentry/models"
	"github.com/camden-git/facesentry/workers"
	"go.uber.org/zap"
)

// FrameMatch is one face found in an uploaded image.
type FrameMatch struct {
	Box         models.BoundingBox  `json:"box"`
	Score       float32             `json:"score"`
	PersonName  string              `json:"person_name"`
	Known       bool                `json:"known"`
	Confidence  float64             `json:"confidence"`
	Distance    float64             `json:"distance"`
	ThreatLevel *models.ThreatLevel `json:"threat_level,omitempty"`
}

// Watchlist resolves the threat level of a person.
type Watchlist interface {
	IsWatchlisted(personName string) (models.ThreatLevel, bool)
}

// FaceRecognitionService runs one-off recognition on uploaded images, outside
// of the camera pipeline.
type FaceRecognitionService struct {
	newAnalyzer workers.AnalyzerFactory
	matcher     workers.Matcher
	watchlist   Watchlist
	logger      *zap.Logger

	mu       sync.Mutex // analyzers are not safe for concurrent use
	analyzer workers.Analyzer
}

// NewFaceRecognitionService creates a new face recognition service. The
// analyzer is loaded on first use.
func NewFaceRecognitionService(newAnalyzer workers.AnalyzerFactory, matcher workers.Matcher, watchlist Watchlist, logger *zap.Logger) *FaceRecognitionService {
	return &FaceRecognitionService{
		newAnalyzer: newAnalyzer,
		matcher:     matcher,
		watchlist:   watchlist,
		logger:      logger.Named("recognition_service"),
	}
}

// DetectFrame finds every face in image and resolves it against the known
// identities, largest face first.
func (s *FaceRecognitionService) DetectFrame(ctx context.Context, image []byte) ([]FrameMatch, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", models.ErrDecode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analyzer == nil {
		a, err := s.newAnalyzer(-1)
		if err != nil {
			return nil, fmt.Errorf("failed to load face analyzer: %w", err)
		}
		s.analyzer = a
	}

	faces, err := s.analyzer.Analyze(ctx, image)
	if err != nil {
		return nil, err
	}

	results := make([]FrameMatch, 0, len(faces))
	for _, face := range faces {
		match := s.matcher.Lookup(face.Encoding)
		result := FrameMatch{
			Box:        face.Box,
			Score:      face.Score,
			PersonName: match.PersonName,
			Known:      match.Known,
			Confidence: match.Confidence,
			Distance:   match.Distance,
		}
		if !match.Known || result.PersonName == "" {
			result.PersonName = models.UnknownPerson
		} else if level, ok := s.watchlist.IsWatchlisted(match.PersonName); ok {
			result.ThreatLevel = &level
		}
		results = append(results, result)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Box.Area() > results[j].Box.Area()
	})
	s.logger.Debug("frame analyzed", zap.Int("faces", len(results)))
	return results, nil
}

// Close releases the analyzer.
func (s *FaceRecognitionService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analyzer == nil {
		return nil
	}
	err := s.analyzer.Close()
	s.analyzer = nil
	return err
}
