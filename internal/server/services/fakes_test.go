package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/mediaarchive/internal/common"
	"github.com/dmitrijs2005/mediaarchive/internal/dbx"
	"github.com/dmitrijs2005/mediaarchive/internal/logging"
	"github.com/dmitrijs2005/mediaarchive/internal/server/blobstore"
	"github.com/dmitrijs2005/mediaarchive/internal/server/events"
	"github.com/dmitrijs2005/mediaarchive/internal/server/inspection"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/dmitrijs2005/mediaarchive/internal/server/repositories/assets"
	"github.com/dmitrijs2005/mediaarchive/internal/server/repositories/episodes"
	"github.com/dmitrijs2005/mediaarchive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mediaarchive/internal/server/repositories/versions"
	"github.com/dmitrijs2005/mediaarchive/internal/server/rewrite"
	"github.com/dmitrijs2005/mediaarchive/internal/server/searchindex"
	"github.com/dmitrijs2005/mediaarchive/internal/server/security"
	"github.com/dmitrijs2005/mediaarchive/internal/server/workspace"
)

// -------- test fakes --------

type memVersions struct {
	versions.Repository
	mu  sync.Mutex
	cur map[string]models.Version
	err error
}

func (f *memVersions) Claim(_ context.Context, id string) (models.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.cur[id]++
	return f.cur[id], nil
}

type memEpisodes struct {
	episodes.Repository
	mu       sync.Mutex
	rows     []*models.Episode
	storeErr error
}

func (f *memEpisodes) Store(_ context.Context, ep *models.Episode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	c := *ep
	c.MediaPackage = ep.MediaPackage.Clone()
	f.rows = append(f.rows, &c)
	return nil
}

func (f *memEpisodes) Get(_ context.Context, id string, v models.Version) (*models.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ep := range f.rows {
		if ep.MediaPackage.ID == id && ep.Version == v && !ep.Deleted() {
			c := *ep
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *memEpisodes) GetLatest(_ context.Context, id string) (*models.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.Episode
	for _, ep := range f.rows {
		if ep.MediaPackage.ID == id && !ep.Deleted() && (latest == nil || ep.Version > latest.Version) {
			latest = ep
		}
	}
	if latest == nil {
		return nil, common.ErrorNotFound
	}
	c := *latest
	return &c, nil
}

func (f *memEpisodes) Delete(_ context.Context, id string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, ep := range f.rows {
		if ep.MediaPackage.ID == id && !ep.Deleted() {
			t := at
			ep.DeletedAt = &t
			n++
		}
	}
	return n, nil
}

func (f *memEpisodes) All(_ context.Context) ([]*models.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Episode, len(f.rows))
	for i, ep := range f.rows {
		c := *ep
		out[i] = &c
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MediaPackage.ID != out[j].MediaPackage.ID {
			return out[i].MediaPackage.ID < out[j].MediaPackage.ID
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

func (f *memEpisodes) Count(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.rows)), nil
}

type memAssets struct {
	assets.Repository
	mu   sync.Mutex
	rows map[string]*models.Asset
}

func (f *memAssets) FindByChecksum(_ context.Context, cs models.Checksum) (*models.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[cs.String()]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *a
	return &c, nil
}

func (f *memAssets) Record(_ context.Context, a *models.Asset) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[a.Checksum.String()]; ok {
		return false, nil
	}
	c := *a
	f.rows[a.Checksum.String()] = &c
	return true, nil
}

func (f *memAssets) DeleteForMediaPackage(_ context.Context, org, mp string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, a := range f.rows {
		if a.StoragePath.OrganizationID == org && a.StoragePath.MediaPackageID == mp {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	v *memVersions
	e *memEpisodes
	a *memAssets
}

func (m *fakeRepoManager) Versions(dbx.DBTX) versions.Repository { return m.v }
func (m *fakeRepoManager) Episodes(dbx.DBTX) episodes.Repository { return m.e }
func (m *fakeRepoManager) Assets(dbx.DBTX) assets.Repository     { return m.a }

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		v: &memVersions{cur: map[string]models.Version{}},
		e: &memEpisodes{},
		a: &memAssets{rows: map[string]*models.Asset{}},
	}
}

// countingStore records every call before delegating to a real store.
type countingStore struct {
	blobstore.Store
	mu     sync.Mutex
	puts   []models.StoragePath
	copies []models.StoragePath
	putErr error
}

func (s *countingStore) Put(ctx context.Context, path models.StoragePath, r io.Reader, size int64, mimeType string) error {
	s.mu.Lock()
	s.puts = append(s.puts, path)
	err := s.putErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Put(ctx, path, r, size, mimeType)
}

func (s *countingStore) Copy(ctx context.Context, from, to models.StoragePath) error {
	s.mu.Lock()
	s.copies = append(s.copies, to)
	s.mu.Unlock()
	return s.Store.Copy(ctx, from, to)
}

// elementPuts counts puts of one element id across all versions.
func (s *countingStore) elementPuts(elementID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.puts {
		if p.ElementID == elementID {
			n++
		}
	}
	return n
}

func (s *countingStore) totalPuts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts)
}

type fakeOpener struct {
	mu      sync.Mutex
	content map[string][]byte
	opens   int
}

func (o *fakeOpener) Open(_ context.Context, uri string) (*workspace.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	b, ok := o.content[uri]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &workspace.Source{Body: io.NopCloser(bytes.NewReader(b)), Size: int64(len(b)), MimeType: "video/mp4"}, nil
}

type failingJob struct{}

func (failingJob) ID() string { return "failing" }
func (failingJob) Wait(context.Context) (models.Element, error) {
	return models.Element{}, inspection.ErrInspectionFailed
}

type failingInspector struct{}

func (failingInspector) Enrich(context.Context, models.Element, bool) (inspection.Job, error) {
	return failingJob{}, nil
}

type fakeEngine struct {
	mu       sync.Mutex
	started  []string
	packages []*models.MediaPackage
	failFor  map[string]bool
}

func (e *fakeEngine) Start(_ context.Context, def models.WorkflowDefinition, mp *models.MediaPackage, _ map[string]string) (*models.WorkflowInstance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failFor[mp.ID] {
		return nil, errors.New("engine unavailable")
	}
	e.started = append(e.started, mp.ID)
	e.packages = append(e.packages, mp)
	return &models.WorkflowInstance{ID: "wf-" + mp.ID, DefinitionID: def.ID, MediaPackageID: mp.ID, State: models.WorkflowInstantiated}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

// -------- helpers --------

const (
	roleEditor   = "ROLE_EDITOR"
	roleViewer   = "ROLE_VIEWER"
	deliveryBase = "http://cdn.example"
)

var (
	org1 = models.Organization{ID: "org-1", AdminRole: "ROLE_ORG1_ADMIN", AnonymousRole: "ROLE_ANONYMOUS"}
	org2 = models.Organization{ID: "org-2", AdminRole: "ROLE_ORG2_ADMIN", AnonymousRole: "ROLE_ANONYMOUS"}

	editorACL = models.NewACL(
		models.ACE{Role: roleEditor, Action: models.ActionRead, Allow: true},
		models.ACE{Role: roleEditor, Action: models.ActionWrite, Allow: true},
		models.ACE{Role: roleViewer, Action: models.ActionRead, Allow: true},
	)
)

func as(ctx context.Context, org models.Organization, roles ...string) context.Context {
	return security.WithIdentity(ctx, models.User{Username: "u", OrganizationID: org.ID, Roles: roles}, org)
}

func editor() context.Context { return as(context.Background(), org1, roleEditor) }
func viewer() context.Context { return as(context.Background(), org1, roleViewer) }

type testEnv struct {
	svc       *ArchiveService
	db        *sql.DB
	mock      sqlmock.Sqlmock
	repos     *fakeRepoManager
	store     *countingStore
	index     *searchindex.BleveIndex
	opener    *fakeOpener
	engine    *fakeEngine
	publisher *fakePublisher
	acls      *security.StaticACLResolver
}

func newTestEnv(t *testing.T, inspector inspection.Service) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	fs, err := blobstore.NewFSStore(t.TempDir(), logging.Nop())
	if err != nil {
		t.Fatalf("NewFSStore error: %v", err)
	}
	idx, err := searchindex.NewMemOnly(logging.Nop())
	if err != nil {
		t.Fatalf("NewMemOnly error: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	env := &testEnv{
		db:        db,
		mock:      mock,
		repos:     newFakeRepoManager(),
		store:     &countingStore{Store: fs},
		index:     idx,
		opener:    &fakeOpener{content: map[string][]byte{}},
		engine:    &fakeEngine{failFor: map[string]bool{}},
		publisher: &fakePublisher{},
		acls:      &security.StaticACLResolver{ByMediaPackage: map[string]models.ACL{}, Default: editorACL},
	}
	if inspector == nil {
		inspector = inspection.NewLocal(inspection.NewInspector(env.opener, models.ChecksumMD5, logging.Nop()))
	}

	env.svc = NewArchiveService(Dependencies{
		DB:          db,
		Repomanager: env.repos,
		Versions:    NewVersionManager(db, env.repos, env.store, env.opener, logging.Nop()),
		Enricher:    NewChecksumEnricher(inspector, 0, logging.Nop()),
		Store:       env.store,
		Index:       idx,
		ACLs:        env.acls,
		Workflows:   env.engine,
		Events:      env.publisher,
		Rewriter:    rewrite.NewBaseURLRewriter(deliveryBase),
		Logger:      logging.Nop(),
	})
	return env
}

// expectDeleteTx prepares sqlmock for the transaction Delete runs.
func (e *testEnv) expectDeleteTx() {
	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
}

func (e *testEnv) content(uri string, body string) {
	e.opener.mu.Lock()
	defer e.opener.mu.Unlock()
	e.opener.content[uri] = []byte(body)
}

func track(id, uri string, cs *models.Checksum) models.Element {
	return models.Element{ID: id, Type: models.ElementTrack, URI: uri, MimeType: "video/mp4", Checksum: cs}
}

func md5Of(v string) *models.Checksum {
	return &models.Checksum{Type: models.ChecksumMD5, Value: v}
}
