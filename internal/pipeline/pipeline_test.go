package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/beamup/internal/beam"
	"github.com/dmitrijs2005/beamup/internal/common"
	"github.com/dmitrijs2005/beamup/internal/config"
	"github.com/dmitrijs2005/beamup/internal/logging"
	"github.com/dmitrijs2005/beamup/internal/reconcile"
	"github.com/dmitrijs2005/beamup/internal/records"
	"github.com/dmitrijs2005/beamup/internal/remote"
)

func setupRepo(t *testing.T) beam.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE beams (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  record_type TEXT NOT NULL,
  record_id INTEGER NOT NULL,
  required_beam_id INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  process TEXT NOT NULL,
  public INTEGER NOT NULL DEFAULT 0,
  remote_id TEXT NOT NULL DEFAULT '',
  remote_metadata TEXT,
  remote_checked TIMESTAMP,
  modified TIMESTAMP NOT NULL,
  no_record INTEGER NOT NULL DEFAULT 0
);
`)
	require.NoError(t, err)
	return beam.NewSQLiteRepository(db)
}

type fakeStore struct {
	items map[int64]*records.Item
	files map[int64]*records.File
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: map[int64]*records.Item{}, files: map[int64]*records.File{}}
}

func (s *fakeStore) Item(ctx context.Context, id int64) (*records.Item, error) {
	it, ok := s.items[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return it, nil
}

func (s *fakeStore) File(ctx context.Context, id int64) (*records.File, error) {
	f, ok := s.files[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return f, nil
}

func (s *fakeStore) CountFilesWithName(ctx context.Context, itemID int64, name string) (int, error) {
	n := 0
	for _, f := range s.files {
		if f.ItemID == itemID && f.OriginalFilename == name {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Open(ctx context.Context, f *records.File) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("payload")), nil
}

// fakeAPI answers PUTs per target URL and serves metadata from a script.
type fakeAPI struct {
	mu        sync.Mutex
	putCodes  map[string]int // target url -> status, default 200
	puts      []string
	deletes   []string
	metadata  []*remote.Metadata
	metaCalls int
	hist      remote.TaskHistory
}

func (a *fakeAPI) ProbeConnectivity(ctx context.Context) bool { return true }

func (a *fakeAPI) IdentifierInUse(ctx context.Context, identifier string) (bool, error) {
	return false, nil
}

func (a *fakeAPI) FetchMetadata(ctx context.Context, bucket string) (*remote.Metadata, error) {
	return a.WaitForMetadata(ctx, bucket, 0)
}

func (a *fakeAPI) WaitForMetadata(ctx context.Context, bucket string, maxWait time.Duration) (*remote.Metadata, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.metadata) == 0 {
		return nil, nil
	}
	if a.metaCalls >= len(a.metadata) {
		// An exhausted script keeps serving its final document.
		return a.metadata[len(a.metadata)-1], nil
	}
	m := a.metadata[a.metaCalls]
	a.metaCalls++
	return m, nil
}

func (a *fakeAPI) FetchTaskHistory(ctx context.Context, bucket string) (remote.TaskHistory, error) {
	return a.hist, nil
}

func (a *fakeAPI) PutObject(ctx context.Context, url string, headers http.Header, body io.Reader, size int64, progress remote.ProgressFunc) remote.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.puts = append(a.puts, url)
	if body != nil {
		_, _ = io.Copy(io.Discard, body)
	}
	if code, ok := a.putCodes[url]; ok {
		return remote.Result{Code: code}
	}
	return remote.Result{Code: http.StatusOK}
}

func (a *fakeAPI) DeleteObject(ctx context.Context, url string, headers http.Header) remote.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletes = append(a.deletes, url)
	return remote.Result{Code: http.StatusOK}
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.AccessKey = "AK"
	cfg.SecretKey = "SK"
	cfg.MinRecheckInterval = 0
	cfg.MaxBucketWait = time.Second
	return cfg
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func setupPipeline(t *testing.T, api *fakeAPI) (*Pipeline, beam.Repository, *fakeStore, *config.Config) {
	t.Helper()
	repo := setupRepo(t)
	store := newFakeStore()
	cfg := testConfig()
	log := testLogger()
	svc := beam.NewService(repo, store, api, cfg, log)
	rec := reconcile.NewReconciler(repo, api, cfg, log)
	return New(repo, svc, store, api, rec, cfg, log), repo, store, cfg
}

func intp(n int) *int { return &n }

// readyParent creates a completed item beam with a confirmed bucket.
func readyParent(t *testing.T, repo beam.Repository, store *fakeStore) *beam.Record {
	t.Helper()
	store.items[1] = &records.Item{ID: 1, Title: "Parent"}
	p := beam.NewRecord(beam.RecordTypeItem, 1, false)
	p.Status = beam.StatusToBeamUp
	p.Process = beam.ProcessCompleted
	p.RemoteID = "beamup_1"
	p.RemoteMetadata = &remote.Metadata{Server: "ia1.us.archive.org", FilesCount: intp(1)}
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

func queuedFile(t *testing.T, repo beam.Repository, store *fakeStore, parent *beam.Record, id int64, name string) *beam.Record {
	t.Helper()
	store.files[id] = &records.File{ID: id, ItemID: parent.RecordID, OriginalFilename: name, Size: 7}
	fb := beam.NewRecord(beam.RecordTypeFile, id, false)
	fb.RequiredBeamID = parent.ID
	fb.Status = beam.StatusToBeamUp
	fb.Process = beam.ProcessQueued
	fb.RemoteID = parent.RemoteID + "/" + name
	require.NoError(t, repo.Create(context.Background(), fb))
	return fb
}

func TestRun_RefusesWithoutAccount(t *testing.T) {
	api := &fakeAPI{}
	p, _, _, cfg := setupPipeline(t, api)
	cfg.AccessKey = ""
	cfg.SecretKey = ""

	_, err := p.Run(context.Background(), []int64{1})
	assert.ErrorIs(t, err, common.ErrAccountNotConfigured)
}

func TestRun_BatchIsolation(t *testing.T) {
	api := &fakeAPI{hist: remote.TaskHistory{Outstanding: true}}
	p, repo, store, cfg := setupPipeline(t, api)
	ctx := context.Background()

	parent := readyParent(t, repo, store)
	f1 := queuedFile(t, repo, store, parent, 10, "a.pdf")
	f2 := queuedFile(t, repo, store, parent, 11, "b.pdf")
	f3 := queuedFile(t, repo, store, parent, 12, "c.pdf")

	api.putCodes = map[string]int{
		remote.ObjectURL(cfg, f2.RemoteID): http.StatusInternalServerError,
	}

	report, err := p.Run(ctx, []int64{f1.ID, f2.ID, f3.ID})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, report.Outcomes[f1.ID])
	assert.Equal(t, OutcomeFailed, report.Outcomes[f2.ID])
	assert.Equal(t, OutcomeSuccess, report.Outcomes[f3.ID])
	assert.Equal(t, ResultFailed, report.Result())

	got1, err := repo.GetByID(ctx, f1.ID)
	require.NoError(t, err)
	assert.Equal(t, beam.ProcessInProgressWaitingRemote, got1.Process)

	got2, err := repo.GetByID(ctx, f2.ID)
	require.NoError(t, err)
	assert.Equal(t, beam.ProcessFailedRecord, got2.Process)

	got3, err := repo.GetByID(ctx, f3.ID)
	require.NoError(t, err)
	assert.Equal(t, beam.ProcessInProgressWaitingRemote, got3.Process)
}

func TestRun_BucketFailureBlocksDependents(t *testing.T) {
	api := &fakeAPI{}
	p, repo, store, cfg := setupPipeline(t, api)
	ctx := context.Background()

	store.items[1] = &records.Item{ID: 1, Title: "Fresh"}
	item := beam.NewRecord(beam.RecordTypeItem, 1, false)
	item.Status = beam.StatusToBeamUp
	item.Process = beam.ProcessQueued
	require.NoError(t, repo.Create(ctx, item))

	fb := queuedFile(t, repo, store, item, 10, "a.pdf")

	api.putCodes = map[string]int{
		remote.BucketURL(cfg, "beamup_1"): http.StatusForbidden,
	}

	report, err := p.Run(ctx, []int64{item.ID, fb.ID})
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, report.Outcomes[item.ID])
	assert.Equal(t, OutcomeWaiting, report.Outcomes[fb.ID])
	assert.Equal(t, ResultFailed, report.Result())

	// Only the bucket creation was attempted; the file never hit the wire.
	assert.Len(t, api.puts, 1)

	gotFile, err := repo.GetByID(ctx, fb.ID)
	require.NoError(t, err)
	assert.Equal(t, beam.ProcessQueuedWaitingBucket, gotFile.Process)
}

func TestRun_ItemFullUploadFlow(t *testing.T) {
	api := &fakeAPI{
		metadata: []*remote.Metadata{
			{Server: "ia1.us.archive.org", FilesCount: intp(0)},
			{Server: "ia1.us.archive.org", FilesCount: intp(1), Files: []remote.FileEntry{{Name: "metadata.html"}}},
		},
	}
	p, repo, store, cfg := setupPipeline(t, api)
	ctx := context.Background()

	store.items[1] = &records.Item{ID: 1, Title: "Annual Report", Creator: "beamup"}
	item := beam.NewRecord(beam.RecordTypeItem, 1, false)
	item.Status = beam.StatusToBeamUp
	item.Process = beam.ProcessQueued
	require.NoError(t, repo.Create(ctx, item))

	report, err := p.Run(ctx, []int64{item.ID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, report.Outcomes[item.ID])
	assert.Equal(t, ResultSuccess, report.Result())

	require.Len(t, api.puts, 2)
	assert.Equal(t, remote.BucketURL(cfg, "beamup_1"), api.puts[0])
	assert.Equal(t, remote.MetadataUploadURL(cfg, "beamup_1"), api.puts[1])

	got, err := repo.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, beam.ProcessCompleted, got.Process)
	assert.Equal(t, "beamup_1", got.RemoteID)
}

func TestRun_RemovalUsesCascadeDelete(t *testing.T) {
	api := &fakeAPI{
		metadata: []*remote.Metadata{
			{Server: "ia1.us.archive.org", FilesCount: intp(1), Files: []remote.FileEntry{{Name: "metadata.html"}}},
		},
	}
	p, repo, store, cfg := setupPipeline(t, api)
	ctx := context.Background()

	parent := readyParent(t, repo, store)
	fb := queuedFile(t, repo, store, parent, 10, "a.pdf")
	fb.Status = beam.StatusToRemove
	require.NoError(t, repo.Save(ctx, fb))

	report, err := p.Run(ctx, []int64{fb.ID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, report.Outcomes[fb.ID])

	require.Len(t, api.deletes, 1)
	assert.Equal(t, remote.ObjectURL(cfg, fb.RemoteID), api.deletes[0])

	// The listing no longer names a.pdf, so removal finalizes immediately.
	got, err := repo.GetByID(ctx, fb.ID)
	require.NoError(t, err)
	assert.Equal(t, beam.ProcessCompleted, got.Process)
}

func TestRun_ParentPendingTasksPostponesFileUpdate(t *testing.T) {
	// The parent's cached metadata carries no task blob once completed, so
	// the busy check has to look at the live document.
	api := &fakeAPI{
		metadata: []*remote.Metadata{
			{
				Server:     "ia1.us.archive.org",
				FilesCount: intp(1),
				Files:      []remote.FileEntry{{Name: "metadata.html"}},
				Tasks:      json.RawMessage(`[{"task_id":101}]`),
			},
		},
	}
	p, repo, store, _ := setupPipeline(t, api)
	ctx := context.Background()

	parent := readyParent(t, repo, store)
	fb := queuedFile(t, repo, store, parent, 10, "a.txt")
	fb.Status = beam.StatusToUpdate
	require.NoError(t, repo.Save(ctx, fb))

	report, err := p.Run(ctx, []int64{fb.ID})
	require.NoError(t, err)

	assert.Equal(t, OutcomeWaiting, report.Outcomes[fb.ID])
	assert.Empty(t, api.puts)

	got, err := repo.GetByID(ctx, fb.ID)
	require.NoError(t, err)
	assert.Equal(t, beam.ProcessQueued, got.Process)
}

func TestRun_SkipsUnqueuedBeams(t *testing.T) {
	api := &fakeAPI{}
	p, repo, store, _ := setupPipeline(t, api)
	ctx := context.Background()

	parent := readyParent(t, repo, store)

	report, err := p.Run(ctx, []int64{parent.ID})
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)
	assert.Equal(t, ResultSuccess, report.Result())
	assert.Empty(t, api.puts)
}
