package recognition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/camden-git/facesentry/models"
	"github.com/camden-git/facesentry/repository"
	"github.com/camden-git/facesentry/utils"
	"github.com/facette/natsort"
	"go.uber.org/zap"
)

// FaceEncoder finds faces in an encoded image and computes their encodings.
type FaceEncoder interface {
	Analyze(ctx context.Context, image []byte) ([]models.Face, error)
}

// DirectoryEnroller builds identities from a directory of photos. A file
// "<name>.jpg" enrolls one photo of name; a directory "<name>/" enrolls every
// photo inside it.
type DirectoryEnroller struct {
	Dir               string
	Encoder           FaceEncoder
	DuplicateDistance float64
	Repo              repository.FaceEncodingRepositoryInterface // optional, receives the computed encodings
	Logger            *zap.Logger
}

type enrollSample struct {
	person string
	path   string
}

// Load scans the directory and encodes every photo.
func (d *DirectoryEnroller) Load(ctx context.Context) ([]KnownIdentity, error) {
	samples, err := d.scan()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*KnownIdentity)
	var order []string
	var rows []models.FaceEncoding
	for _, sample := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		encoding, enrolledAt, err := d.encode(ctx, sample.path)
		if err != nil {
			d.Logger.Warn("skipping enrollment photo", zap.String("path", sample.path), zap.Error(err))
			continue
		}

		id, ok := byName[sample.person]
		if !ok {
			id = &KnownIdentity{PersonName: sample.person, EnrolledAt: enrolledAt}
			byName[sample.person] = id
			order = append(order, sample.person)
		}
		if enrolledAt.Before(id.EnrolledAt) {
			id.EnrolledAt = enrolledAt
		}
		if d.isDuplicate(id.Encodings, encoding) {
			d.Logger.Debug("skipping near-duplicate encoding", zap.String("person", sample.person), zap.String("path", sample.path))
			continue
		}
		id.Encodings = append(id.Encodings, encoding)

		row := models.FaceEncoding{PersonName: sample.person, Source: sample.path, EnrolledAt: enrolledAt.Unix()}
		row.SetEncoding(encoding)
		rows = append(rows, row)
	}

	identities := make([]KnownIdentity, 0, len(order))
	for _, name := range order {
		identities = append(identities, *byName[name])
	}
	sortByEnrollment(identities)

	if d.Repo != nil {
		rank := make(map[string]int, len(identities))
		for i, id := range identities {
			rank[id.PersonName] = i
		}
		sort.SliceStable(rows, func(i, j int) bool { return rank[rows[i].PersonName] < rank[rows[j].PersonName] })
		for i := range rows {
			rows[i].EnrolledAt = identities[rank[rows[i].PersonName]].EnrolledAt.Unix()
		}
		if err := d.Repo.ReplaceAll(rows); err != nil {
			return nil, fmt.Errorf("failed to persist enrolled encodings: %w", err)
		}
	}
	d.Logger.Info("enrollment directory scanned", zap.String("dir", d.Dir), zap.Int("photos", len(samples)), zap.Int("people", len(identities)))
	return identities, nil
}

func (d *DirectoryEnroller) scan() ([]enrollSample, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read enrollment directory %s: %w", d.Dir, err)
	}

	var samples []enrollSample
	for _, entry := range entries {
		full := filepath.Join(d.Dir, entry.Name())
		if entry.IsDir() {
			files, err := os.ReadDir(full)
			if err != nil {
				return nil, fmt.Errorf("failed to read enrollment directory %s: %w", full, err)
			}
			names := make([]string, 0, len(files))
			for _, f := range files {
				if !f.IsDir() && utils.IsRasterImage(f.Name()) {
					names = append(names, f.Name())
				}
			}
			natsort.Sort(names)
			for _, name := range names {
				samples = append(samples, enrollSample{person: entry.Name(), path: filepath.Join(full, name)})
			}
			continue
		}
		if utils.IsRasterImage(entry.Name()) {
			person := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
			samples = append(samples, enrollSample{person: person, path: full})
		}
	}
	return samples, nil
}

// encode returns the encoding of the largest face in the photo and the time it was taken.
func (d *DirectoryEnroller) encode(ctx context.Context, path string) ([]float32, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	faces, err := d.Encoder.Analyze(ctx, data)
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(faces) == 0 {
		return nil, time.Time{}, errors.New("no face found")
	}
	largest := faces[0]
	for _, f := range faces[1:] {
		if f.Box.Area() > largest.Box.Area() {
			largest = f
		}
	}
	if len(largest.Encoding) == 0 {
		return nil, time.Time{}, errors.New("face has no encoding")
	}
	return largest.Encoding, utils.PhotoTakenAt(path, data), nil
}

func (d *DirectoryEnroller) isDuplicate(existing [][]float32, encoding []float32) bool {
	if d.DuplicateDistance <= 0 {
		return false
	}
	for _, e := range existing {
		if len(e) == len(encoding) && Distance(e, encoding) < d.DuplicateDistance {
			return true
		}
	}
	return false
}

// sortByEnrollment orders identities by enrollment time, then by natural name order.
func sortByEnrollment(ids []KnownIdentity) {
	sort.SliceStable(ids, func(i, j int) bool {
		if !ids[i].EnrolledAt.Equal(ids[j].EnrolledAt) {
			return ids[i].EnrolledAt.Before(ids[j].EnrolledAt)
		}
		return natsort.Compare(ids[i].PersonName, ids[j].PersonName)
	})
}

// RepositoryEnroller loads previously computed encodings from the database.
type RepositoryEnroller struct {
	Repo repository.FaceEncodingRepositoryInterface
}

// Load groups the stored encodings by person, keeping enrollment order.
func (r *RepositoryEnroller) Load(ctx context.Context) ([]KnownIdentity, error) {
	rows, err := r.Repo.ListAll()
	if err != nil {
		return nil, err
	}
	index := make(map[string]int)
	var identities []KnownIdentity
	for _, row := range rows {
		encoding := row.GetEncoding()
		if len(encoding) == 0 {
			continue
		}
		i, ok := index[row.PersonName]
		if !ok {
			i = len(identities)
			index[row.PersonName] = i
			identities = append(identities, KnownIdentity{PersonName: row.PersonName, EnrolledAt: time.Unix(row.EnrolledAt, 0)})
		}
		identities[i].Encodings = append(identities[i].Encodings, encoding)
	}
	return identities, nil
}
