package recognition

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/camden-git/facesentry/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// contentEncoder maps file contents to the faces found in them.
type contentEncoder map[string][]models.Face

func (e contentEncoder) Analyze(_ context.Context, image []byte) ([]models.Face, error) {
	faces, ok := e[string(image)]
	if !ok {
		return nil, errors.New("cannot decode")
	}
	return faces, nil
}

type memEncodingRepo struct {
	rows []models.FaceEncoding
	err  error
}

func (r *memEncodingRepo) ListAll() ([]models.FaceEncoding, error) { return r.rows, r.err }
func (r *memEncodingRepo) ReplaceAll(rows []models.FaceEncoding) error {
	if r.err != nil {
		return r.err
	}
	r.rows = rows
	return nil
}

func face(size int, enc ...float32) models.Face {
	return models.Face{Box: models.BoundingBox{W: size, H: size}, Encoding: enc}
}

func writePhoto(t *testing.T, path, content string, at time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, at, at))
}

func TestDirectoryEnrollerLoad(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	writePhoto(t, filepath.Join(dir, "alice.jpg"), "alice", t0.Add(2*time.Hour))
	writePhoto(t, filepath.Join(dir, "bob", "10.jpg"), "bob-far", t0.Add(time.Hour))
	writePhoto(t, filepath.Join(dir, "bob", "2.jpg"), "bob-near", t0.Add(time.Hour))
	writePhoto(t, filepath.Join(dir, "bob", "1.png"), "bob", t0.Add(time.Hour))
	writePhoto(t, filepath.Join(dir, "bob", "notes.txt"), "ignored", t0)
	writePhoto(t, filepath.Join(dir, "carol.jpg"), "noface", t0)
	writePhoto(t, filepath.Join(dir, "dave.jpeg"), "garbage", t0)
	writePhoto(t, filepath.Join(dir, "README.md"), "ignored", t0)

	encoder := contentEncoder{
		"alice":    {face(10, 9, 9), face(50, 0, 0)},
		"bob":      {face(40, 5, 5)},
		"bob-near": {face(40, 5.01, 5)},
		"bob-far":  {face(40, 6, 6)},
		"noface":   {},
		"ignored":  {face(10, 1, 1)},
	}
	repo := &memEncodingRepo{}
	enroller := &DirectoryEnroller{Dir: dir, Encoder: encoder, DuplicateDistance: 0.1, Repo: repo, Logger: zap.NewNop()}

	ids, err := enroller.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 2)

	assert.Equal(t, "bob", ids[0].PersonName)
	assert.Equal(t, [][]float32{{5, 5}, {6, 6}}, ids[0].Encodings)
	assert.Equal(t, "alice", ids[1].PersonName)
	assert.Equal(t, [][]float32{{0, 0}}, ids[1].Encodings, "largest face wins")

	require.Len(t, repo.rows, 3)
	assert.Equal(t, "bob", repo.rows[0].PersonName)
	assert.Equal(t, "alice", repo.rows[2].PersonName)
	assert.Equal(t, []float32{6, 6}, repo.rows[1].GetEncoding())
	assert.Equal(t, t0.Add(time.Hour).Unix(), repo.rows[0].EnrolledAt)
	assert.Equal(t, filepath.Join(dir, "bob", "1.png"), repo.rows[0].Source)

	// the repository enroller reproduces the same identities
	loaded, err := (&RepositoryEnroller{Repo: repo}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, ids[0].PersonName, loaded[0].PersonName)
	assert.Equal(t, ids[0].Encodings, loaded[0].Encodings)
	assert.Equal(t, ids[1].Encodings, loaded[1].Encodings)
}

func TestDirectoryEnrollerErrors(t *testing.T) {
	enroller := &DirectoryEnroller{Dir: filepath.Join(t.TempDir(), "missing"), Encoder: contentEncoder{}, Logger: zap.NewNop()}
	_, err := enroller.Load(context.Background())
	assert.Error(t, err)

	dir := t.TempDir()
	writePhoto(t, filepath.Join(dir, "alice.jpg"), "alice", time.Now())
	repo := &memEncodingRepo{err: errors.New("read only")}
	enroller = &DirectoryEnroller{Dir: dir, Encoder: contentEncoder{"alice": {face(10, 1)}}, Repo: repo, Logger: zap.NewNop()}
	_, err = enroller.Load(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	enroller.Repo = nil
	_, err = enroller.Load(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEnrollmentOrderBreaksTiesNaturally(t *testing.T) {
	at := time.Unix(100, 0)
	ids := []KnownIdentity{
		{PersonName: "person10", EnrolledAt: at},
		{PersonName: "person2", EnrolledAt: at},
		{PersonName: "early", EnrolledAt: at.Add(-time.Second)},
	}
	sortByEnrollment(ids)
	assert.Equal(t, "early", ids[0].PersonName)
	assert.Equal(t, "person2", ids[1].PersonName)
	assert.Equal(t, "person10", ids[2].PersonName)
}
