package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
	"github.com/dmitrijs2005/mediaarchive/internal/server/blobstore"
	"github.com/dmitrijs2005/mediaarchive/internal/server/events"
	"github.com/dmitrijs2005/mediaarchive/internal/server/inspection"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/dmitrijs2005/mediaarchive/internal/server/rewrite"
	"github.com/dmitrijs2005/mediaarchive/internal/server/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestArchive_VersionDedupReadDeleteScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///ingest/e1.mp4", "0123456789")
	env.content("file:///ingest/e2.mp4", "fresh bytes")

	// version 1
	mp := &models.MediaPackage{ID: "mp-1", Title: "Lecture", Elements: []models.Element{
		track("e1", "file:///ingest/e1.mp4", md5Of("abc123")),
	}}
	require.NoError(t, env.svc.Add(editor(), mp))

	assert.Equal(t, 1, env.store.elementPuts("e1"))
	rc, err := env.store.Get(context.Background(), models.NewStoragePath("org-1", "mp-1", 1, "e1"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", readAll(t, rc))

	res, err := env.index.Find(context.Background(), models.Query{MediaPackageID: "mp-1"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, models.Version(1), res.Items[0].Version)
	assert.True(t, res.Items[0].Latest)
	assert.Equal(t, "http://cdn.example/org-1/mp-1/1/e1", res.Items[0].MediaPackage.Elements[0].URI)

	ep, err := env.repos.e.Get(context.Background(), "mp-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "urn:mediaarchive:mp-1:1:e1", ep.MediaPackage.Elements[0].URI)

	// version 2: e1 unchanged, e2 new without checksum
	mp2 := &models.MediaPackage{ID: "mp-1", Title: "Lecture", Elements: []models.Element{
		track("e1", "file:///ingest/e1.mp4", md5Of("abc123")),
		track("e2", "file:///ingest/e2.mp4", nil),
	}}
	require.NoError(t, env.svc.Add(editor(), mp2))

	assert.Equal(t, 1, env.store.elementPuts("e1"), "e1 must be aliased, not stored again")
	assert.Equal(t, 1, env.store.elementPuts("e2"))
	assert.Contains(t, env.store.copies, models.NewStoragePath("org-1", "mp-1", 2, "e1"))
	assert.Nil(t, mp2.Elements[1].Checksum, "caller's package must not be modified")
	assert.Equal(t, "file:///ingest/e2.mp4", mp2.Elements[1].URI)

	res, err = env.index.Find(context.Background(), models.Query{MediaPackageID: "mp-1"})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, models.Version(2), res.Items[0].Version)
	assert.True(t, res.Items[0].Latest)
	assert.Equal(t, models.Version(1), res.Items[1].Version)
	assert.False(t, res.Items[1].Latest)

	// historic read by a read-only user
	el, err := env.svc.Get(viewer(), "mp-1", "e1", 1)
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, "0123456789", readAll(t, el.Content))
	assert.Equal(t, "video/mp4", el.MimeType)

	// delete everything
	env.expectDeleteTx()
	deleted, err := env.svc.Delete(editor(), "mp-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	for _, p := range []models.StoragePath{
		models.NewStoragePath("org-1", "mp-1", 1, "e1"),
		models.NewStoragePath("org-1", "mp-1", 2, "e1"),
		models.NewStoragePath("org-1", "mp-1", 2, "e2"),
	} {
		_, err := env.store.Get(context.Background(), p)
		assert.ErrorIs(t, err, blobstore.ErrNotFound, p.Key())
	}

	res, err = env.index.Find(context.Background(), models.Query{MediaPackageID: "mp-1"})
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	deleted, err = env.svc.Delete(editor(), "mp-1")
	require.NoError(t, err)
	assert.False(t, deleted)

	el, err = env.svc.Get(viewer(), "mp-1", "e1", 1)
	require.NoError(t, err)
	assert.Nil(t, el)

	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestArchive_AddClaimsIncreasingVersions(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")

	mp := &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", nil)}}
	for i := 0; i < 3; i++ {
		require.NoError(t, env.svc.Add(editor(), mp))
	}

	all, err := env.repos.e.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, ep := range all {
		assert.Equal(t, models.Version(i+1), ep.Version)
	}
	assert.Equal(t, 1, env.store.elementPuts("e1"))
}

func TestArchive_ConcurrentAddsOfOnePackageKeepOneLatest(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mp := &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", md5Of("0cc175b9c0f1b6a831c399e269772661"))}}
			assert.NoError(t, env.svc.Add(editor(), mp))
		}()
	}
	wg.Wait()

	res, err := env.index.Find(context.Background(), models.Query{MediaPackageID: "mp-1", OnlyLastVersion: true})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, models.Version(5), res.Items[0].Version)
}

func TestArchive_DedupAcrossPackages(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///shared.mp4", "same content")

	for _, id := range []string{"mp-a", "mp-b"} {
		mp := &models.MediaPackage{ID: id, Elements: []models.Element{track("video", "file:///shared.mp4", nil)}}
		require.NoError(t, env.svc.Add(editor(), mp))
	}

	assert.Equal(t, 1, env.store.elementPuts("video"))
	rc, err := env.store.Get(context.Background(), models.NewStoragePath("org-1", "mp-b", 1, "video"))
	require.NoError(t, err)
	assert.Equal(t, "same content", readAll(t, rc))
}

func TestArchive_ChecksumFailureWritesNothing(t *testing.T) {
	env := newTestEnv(t, failingInspector{})

	mp := &models.MediaPackage{ID: "mp-1", Elements: []models.Element{
		track("e1", "file:///a", md5Of("abc")),
		track("e2", "file:///b", nil),
	}}
	err := env.svc.Add(editor(), mp)
	require.Error(t, err)

	var ae *ArchiveError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "ensure checksums", ae.Op)
	assert.ErrorIs(t, err, inspection.ErrInspectionFailed)

	assert.Zero(t, env.store.totalPuts())
	assert.Empty(t, env.store.copies)
	n, err := env.index.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, env.repos.e.rows)
}

func TestArchive_AddRequiresWrite(t *testing.T) {
	env := newTestEnv(t, nil)
	mp := &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", md5Of("abc"))}}

	err := env.svc.Add(viewer(), mp)
	require.ErrorIs(t, err, common.ErrorUnauthorized)
	var ae *ArchiveError
	assert.False(t, errors.As(err, &ae), "authorization errors are not wrapped")

	stranger := models.User{Username: "s", OrganizationID: org2.ID, Roles: []string{roleEditor}}
	err = env.svc.Add(security.WithIdentity(context.Background(), stranger, org1), mp)
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	assert.Zero(t, env.store.totalPuts())
	assert.Empty(t, env.repos.v.cur, "no version may be claimed")
}

func TestArchive_AddWithoutOrganization(t *testing.T) {
	env := newTestEnv(t, nil)
	err := env.svc.Add(context.Background(), &models.MediaPackage{ID: "mp-1"})
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestArchive_AddRejectsMissingPackage(t *testing.T) {
	env := newTestEnv(t, nil)
	err := env.svc.Add(editor(), nil)
	assert.ErrorIs(t, err, common.ErrorIncorrectMetadata)
}

func TestArchive_AddRejectsAmbiguousIdentifiers(t *testing.T) {
	tests := []struct {
		name string
		mp   *models.MediaPackage
	}{
		{"slash in package id", &models.MediaPackage{ID: "a/b"}},
		{"backslash in package id", &models.MediaPackage{ID: `a\b`}},
		{"dot dot package id", &models.MediaPackage{ID: ".."}},
		{"colon in package id", &models.MediaPackage{ID: "a:1"}},
		{"empty package id", &models.MediaPackage{}},
		{"slash in element id", &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("2/e", "file:///a", md5Of("a"))}}},
		{"dot element id", &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track(".", "file:///a", md5Of("a"))}}},
		{"empty element id", &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("", "file:///a", md5Of("a"))}}},
		{"duplicate element id", &models.MediaPackage{ID: "mp-1", Elements: []models.Element{
			track("e1", "file:///a", md5Of("sum-a")),
			track("e1", "file:///b", md5Of("sum-b")),
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.content("file:///a", "AAAA")
			env.content("file:///b", "BBBB")

			err := env.svc.Add(editor(), tt.mp)
			require.ErrorIs(t, err, common.ErrorIncorrectMetadata)
			assert.Zero(t, env.store.totalPuts())
			assert.Empty(t, env.repos.v.cur, "no version may be claimed")
			assert.Empty(t, env.repos.a.rows)
		})
	}
}

func TestArchive_DeleteLeavesPackagesWithSharedPrefix(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "AAAA")

	require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: "a", Elements: []models.Element{track("e", "file:///a", md5Of("sum-a"))}}))
	require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: "ab", Elements: []models.Element{track("e", "file:///a", md5Of("sum-a"))}}))
	require.ErrorIs(t, env.svc.Add(editor(), &models.MediaPackage{ID: "a/b"}), common.ErrorIncorrectMetadata)

	env.expectDeleteTx()
	ok, err := env.svc.Delete(editor(), "a")
	require.NoError(t, err)
	require.True(t, ok)

	el, err := env.svc.Get(viewer(), "ab", "e", 1)
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, "AAAA", readAll(t, el.Content))
}

func TestArchive_DuplicateElementIDsNeverMisrecordContent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "AAAA")
	env.content("file:///b", "BBBB")

	err := env.svc.Add(editor(), &models.MediaPackage{ID: "mp-1", Elements: []models.Element{
		track("e1", "file:///a", md5Of("sum-a")),
		track("e1", "file:///b", md5Of("sum-b")),
	}})
	require.ErrorIs(t, err, common.ErrorIncorrectMetadata)

	require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: "mp-2", Elements: []models.Element{track("x", "file:///b", md5Of("sum-b"))}}))
	el, err := env.svc.Get(viewer(), "mp-2", "x", 1)
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, "BBBB", readAll(t, el.Content))
}

func TestArchive_ManifestAvoidsElementIDs(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///m", "not the manifest")

	mp := &models.MediaPackage{ID: "mp-1", Elements: []models.Element{
		{ID: common.ManifestElementID, Type: models.ElementCatalog, URI: "file:///m", Checksum: md5Of("m1")},
		{ID: "pub", Type: models.ElementPublication, URI: "http://youtube.example/v/1"},
	}}
	require.NoError(t, env.svc.Add(editor(), mp))

	rc, err := env.store.Get(context.Background(), models.NewStoragePath("org-1", "mp-1", 1, "manifest"))
	require.NoError(t, err)
	assert.Equal(t, "not the manifest", readAll(t, rc))

	rc, err = env.store.Get(context.Background(), models.NewStoragePath("org-1", "mp-1", 1, "manifest_"))
	require.NoError(t, err)
	var manifest models.MediaPackage
	require.NoError(t, json.Unmarshal([]byte(readAll(t, rc)), &manifest))
	assert.Equal(t, "mp-1", manifest.ID)
	assert.Equal(t, "urn:mediaarchive:mp-1:1:manifest", manifest.Elements[0].URI)
	assert.Equal(t, "http://youtube.example/v/1", manifest.Elements[1].URI, "publications keep their URI")

	assert.Zero(t, env.store.elementPuts("pub"), "publications are never stored")
}

func TestManifestElementID(t *testing.T) {
	mp := &models.MediaPackage{Elements: []models.Element{{ID: "manifest"}, {ID: "manifest_"}}}
	assert.Equal(t, "manifest__", manifestElementID(mp))
	assert.Equal(t, "manifest", manifestElementID(&models.MediaPackage{}))
}

func TestArchive_EventsPublished(t *testing.T) {
	env := newTestEnv(t, nil)
	mp := &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", md5Of("abc"))}}
	env.content("file:///a", "a")

	require.NoError(t, env.svc.Add(editor(), mp))
	env.expectDeleteTx()
	_, err := env.svc.Delete(editor(), "mp-1")
	require.NoError(t, err)

	require.Len(t, env.publisher.events, 2)
	assert.Equal(t, events.Update, env.publisher.events[0].Type)
	assert.Equal(t, models.Version(1), env.publisher.events[0].Version)
	assert.Equal(t, "org-1", env.publisher.events[0].OrganizationID)
	assert.True(t, env.publisher.events[0].Latest)
	require.NotNil(t, env.publisher.events[0].MediaPackage)
	assert.Equal(t, "http://cdn.example/org-1/mp-1/1/e1", env.publisher.events[0].MediaPackage.Elements[0].URI)
	assert.Equal(t, events.Delete, env.publisher.events[1].Type)
}

func TestArchive_PublishFailureDoesNotFailAdd(t *testing.T) {
	env := newTestEnv(t, nil)
	env.publisher.err = errors.New("redis down")
	env.content("file:///a", "a")

	mp := &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", nil)}}
	assert.NoError(t, env.svc.Add(editor(), mp))
}

func TestArchive_StoreFailureIsWrapped(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")
	env.store.putErr = errors.New("disk full")

	mp := &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", md5Of("abc"))}}
	err := env.svc.Add(editor(), mp)

	var ae *ArchiveError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "store element e1", ae.Op)
	assert.Empty(t, env.repos.e.rows)
}

func TestArchive_GetOutcomes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")
	mp := &models.MediaPackage{ID: "mp-1", Elements: []models.Element{
		track("e1", "file:///a", nil),
		{ID: "pub", Type: models.ElementPublication, URI: "http://pub.example/1"},
	}}
	require.NoError(t, env.svc.Add(editor(), mp))

	// an episode row whose content never made it to the store
	require.NoError(t, env.repos.e.Store(context.Background(), &models.Episode{
		OrganizationID: "org-1",
		MediaPackage:   &models.MediaPackage{ID: "mp-2", Elements: []models.Element{track("e1", "urn:mediaarchive:mp-2:1:e1", md5Of("x"))}},
		ACL:            editorACL,
		Version:        1,
	}))

	tests := []struct {
		name    string
		mp, el  string
		version models.Version
		want    lookupOutcome
	}{
		{name: "found", mp: "mp-1", el: "e1", version: 1, want: found},
		{name: "unknown version", mp: "mp-1", el: "e1", version: 7, want: episodeMissing},
		{name: "unknown package", mp: "nope", el: "e1", version: 1, want: episodeMissing},
		{name: "unknown element", mp: "mp-1", el: "e9", version: 1, want: elementMissing},
		{name: "publication", mp: "mp-1", el: "pub", version: 1, want: elementMissing},
		{name: "no content", mp: "mp-2", el: "e1", version: 1, want: contentMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, el, err := env.svc.lookup(viewer(), tt.mp, tt.el, tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome, outcome.String())
			if tt.want == found {
				require.NotNil(t, el)
				_ = el.Content.Close()
			} else {
				assert.Nil(t, el)
			}

			pub, err := env.svc.Get(viewer(), tt.mp, tt.el, tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.want == found, pub != nil)
			if pub != nil {
				_ = pub.Content.Close()
			}
		})
	}
}

func TestArchive_GetRequiresRead(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")
	require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", nil)}}))

	_, err := env.svc.Get(as(context.Background(), org1, "ROLE_NOBODY"), "mp-1", "e1", 1)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = env.svc.Get(as(context.Background(), org2, roleViewer), "mp-1", "e1", 1)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	el, err := env.svc.Get(as(context.Background(), org1, org1.AdminRole), "mp-1", "e1", 1)
	require.NoError(t, err)
	require.NotNil(t, el)
	_ = el.Content.Close()
}

func TestArchive_AnonymousUsesOrganizationRole(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")
	env.acls.ByMediaPackage["mp-public"] = models.NewACL(
		models.ACE{Role: roleEditor, Action: models.ActionWrite, Allow: true},
		models.ACE{Role: org1.AnonymousRole, Action: models.ActionRead, Allow: true},
	)
	require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: "mp-public", Elements: []models.Element{track("e1", "file:///a", nil)}}))

	anon := security.WithOrganization(context.Background(), org1)
	el, err := env.svc.Get(anon, "mp-public", "e1", 1)
	require.NoError(t, err)
	require.NotNil(t, el)
	_ = el.Content.Close()
}

func TestArchive_GetDelivered(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "signed content")
	require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", nil)}}))

	signer := rewrite.NewSignedURLRewriter("http://cdn.example", []byte("secret"), time.Minute)
	tokenFor := func(p models.StoragePath) string {
		raw, err := signer.Rewrite(p, models.Element{})
		require.NoError(t, err)
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return u.Query().Get("token")
	}

	// no identity needed, the token grants access
	el, err := env.svc.GetDelivered(context.Background(), tokenFor(models.NewStoragePath("org-1", "mp-1", 1, "e1")), signer)
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, "signed content", readAll(t, el.Content))

	for _, p := range []models.StoragePath{
		models.NewStoragePath("org-2", "mp-1", 1, "e1"),
		models.NewStoragePath("org-1", "mp-1", 2, "e1"),
		models.NewStoragePath("org-1", "mp-1", 1, "nope"),
	} {
		el, err := env.svc.GetDelivered(context.Background(), tokenFor(p), signer)
		require.NoError(t, err, p.Key())
		assert.Nil(t, el, p.Key())
	}

	other := rewrite.NewSignedURLRewriter("http://cdn.example", []byte("other"), time.Minute)
	_, err = env.svc.GetDelivered(context.Background(), tokenFor(models.NewStoragePath("org-1", "mp-1", 1, "e1")), other)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestArchive_DeleteRequiresWrite(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")
	require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", nil)}}))

	_, err := env.svc.Delete(viewer(), "mp-1")
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = env.store.Get(context.Background(), models.NewStoragePath("org-1", "mp-1", 1, "e1"))
	assert.NoError(t, err, "content must survive a refused delete")
	require.NoError(t, env.mock.ExpectationsWereMet())
}

// Delete is authorized against the latest version's ACL only, even though it
// removes the content of every version.
func TestArchive_DeleteChecksOnlyLatestVersionACL(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")
	env.content("file:///b", "b")

	env.acls.ByMediaPackage["mp-1"] = models.NewACL(models.ACE{Role: "ROLE_OWNER", Action: models.ActionWrite, Allow: true})
	require.NoError(t, env.svc.Add(as(context.Background(), org1, "ROLE_OWNER"),
		&models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", nil)}}))

	env.acls.ByMediaPackage["mp-1"] = editorACL
	require.NoError(t, env.svc.Add(editor(),
		&models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e2", "file:///b", nil)}}))

	// the editor could not touch version 1 on its own
	_, err := env.svc.Get(editor(), "mp-1", "e1", 1)
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	env.expectDeleteTx()
	deleted, err := env.svc.Delete(editor(), "mp-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = env.store.Get(context.Background(), models.NewStoragePath("org-1", "mp-1", 1, "e1"))
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestArchive_FindFiltersUnreadable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")

	env.acls.ByMediaPackage["mp-secret"] = models.NewACL(
		models.ACE{Role: roleEditor, Action: models.ActionWrite, Allow: true},
		models.ACE{Role: roleEditor, Action: models.ActionRead, Allow: true},
	)
	for _, id := range []string{"mp-open", "mp-secret"} {
		require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: id, Elements: []models.Element{track("e1", "file:///a", nil)}}))
	}

	res, err := env.svc.Find(viewer(), models.Query{}, nil)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "mp-open", res.Items[0].MediaPackage.ID)
	assert.Equal(t, int64(1), res.TotalSize)

	res, err = env.svc.Find(editor(), models.Query{}, nil)
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, int64(2), res.TotalSize)
}

func TestArchive_FindRewritesURIs(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")
	require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", nil)}}))

	res, err := env.svc.Find(viewer(), models.Query{MediaPackageID: "mp-1"}, newPrefixRewriter("https://edge.example"))
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "https://edge.example/org-1/mp-1/1/e1", res.Items[0].MediaPackage.Elements[0].URI)
}

func TestArchive_FindForAdministrativeRead(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")

	env.acls.ByMediaPackage["mp-locked"] = models.NewACL()
	require.NoError(t, env.svc.Add(as(context.Background(), org1, org1.AdminRole),
		&models.MediaPackage{ID: "mp-locked", Elements: []models.Element{track("e1", "file:///a", nil)}}))
	require.NoError(t, env.svc.Add(as(context.Background(), org2, roleEditor),
		&models.MediaPackage{ID: "mp-other", Elements: []models.Element{track("e1", "file:///a", nil)}}))

	_, err := env.svc.FindForAdministrativeRead(viewer(), models.Query{}, nil)
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	res, err := env.svc.FindForAdministrativeRead(as(context.Background(), org1, org1.AdminRole), models.Query{}, nil)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "mp-locked", res.Items[0].MediaPackage.ID)

	res, err = env.svc.FindForAdministrativeRead(as(context.Background(), org1, security.GlobalAdminRole), models.Query{}, nil)
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
}

func TestArchive_ApplyWorkflow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")

	env.acls.ByMediaPackage["mp-readonly"] = models.NewACL(
		models.ACE{Role: "ROLE_OWNER", Action: models.ActionWrite, Allow: true},
		models.ACE{Role: roleEditor, Action: models.ActionRead, Allow: true},
	)
	require.NoError(t, env.svc.Add(as(context.Background(), org1, "ROLE_OWNER"),
		&models.MediaPackage{ID: "mp-readonly", Elements: []models.Element{track("e1", "file:///a", nil)}}))

	for _, id := range []string{"mp-a", "mp-a", "mp-broken"} {
		require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: id, Elements: []models.Element{track("e1", "file:///a", nil)}}))
	}
	env.engine.failFor["mp-broken"] = true

	wf := models.ConfiguredWorkflow{Definition: models.WorkflowDefinition{ID: "republish"}}
	started, err := env.svc.ApplyWorkflow(editor(), wf, nil, models.Query{})
	require.NoError(t, err)

	require.Len(t, started, 1)
	assert.Equal(t, "mp-a", started[0].MediaPackageID)
	assert.Equal(t, []string{"mp-a"}, env.engine.started, "latest version only, once")
}

func TestArchive_ApplyWorkflowToIDs(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")
	env.content("file:///b", "b")
	for _, id := range []string{"mp-a", "mp-b"} {
		require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: id, Elements: []models.Element{track("e1", "file:///a", nil)}}))
	}
	require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: "mp-b", Elements: []models.Element{track("e1", "file:///b", nil)}}))

	wf := models.ConfiguredWorkflow{Definition: models.WorkflowDefinition{ID: "republish"}}
	started, err := env.svc.ApplyWorkflowToIDs(editor(), wf, newPrefixRewriter("https://wf.example"), []string{"mp-b", "unknown"})
	require.NoError(t, err)
	require.Len(t, started, 1)
	assert.Equal(t, "mp-b", started[0].MediaPackageID)
	require.Len(t, env.engine.packages, 1)
	assert.Equal(t, "https://wf.example/org-1/mp-b/2/e1", env.engine.packages[0].Elements[0].URI, "bound to the latest version of mp-b")

	started, err = env.svc.ApplyWorkflowToIDs(viewer(), wf, nil, []string{"mp-a"})
	require.NoError(t, err)
	assert.Empty(t, started)
}

func TestArchive_ClearAndPopulateIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")
	env.content("file:///b", "b")
	ctx := editor()

	require.NoError(t, env.svc.Add(ctx, &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", nil)}}))
	require.NoError(t, env.svc.Add(ctx, &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///b", nil)}}))
	require.NoError(t, env.svc.Add(ctx, &models.MediaPackage{ID: "mp-2", Elements: []models.Element{track("e1", "file:///a", nil)}}))
	env.expectDeleteTx()
	_, err := env.svc.Delete(ctx, "mp-2")
	require.NoError(t, err)

	require.NoError(t, env.svc.Clear(ctx))
	n, err := env.index.Count(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	assert.Len(t, env.repos.e.rows, 3, "clear leaves the durable store alone")

	require.NoError(t, env.svc.PopulateIndex(context.Background(), nil))
	n, err = env.index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	res, err := env.index.Find(context.Background(), models.Query{MediaPackageID: "mp-1"})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.True(t, res.Items[0].Latest)
	assert.Equal(t, models.Version(2), res.Items[0].Version)
	assert.False(t, res.Items[1].Latest)
	assert.Equal(t, "http://cdn.example/org-1/mp-1/1/e1", res.Items[1].MediaPackage.Elements[0].URI)

	res, err = env.index.Find(context.Background(), models.Query{MediaPackageID: "mp-2", IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.True(t, res.Items[0].Deleted)
	assert.False(t, res.Items[0].Latest)

	// a populated index is left alone
	require.NoError(t, env.svc.PopulateIndex(context.Background(), newPrefixRewriter("https://other.example")))
	res, err = env.index.Find(context.Background(), models.Query{MediaPackageID: "mp-1", OnlyLastVersion: true})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "http://cdn.example/org-1/mp-1/2/e1", res.Items[0].MediaPackage.Elements[0].URI)

	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestArchive_Repopulate(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")
	env.content("file:///b", "b")
	ctx := editor()

	require.NoError(t, env.svc.Add(ctx, &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", nil)}}))
	require.NoError(t, env.svc.Add(ctx, &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///b", nil)}}))
	require.NoError(t, env.svc.Add(ctx, &models.MediaPackage{ID: "mp-2", Elements: []models.Element{track("e1", "file:///a", nil)}}))
	require.NoError(t, env.svc.Add(ctx, &models.MediaPackage{ID: "mp-3", Elements: []models.Element{track("e1", "file:///a", nil)}}))
	env.expectDeleteTx()
	_, err := env.svc.Delete(ctx, "mp-3")
	require.NoError(t, err)

	// mp-2 was tampered with in the durable store
	for _, ep := range env.repos.e.rows {
		if ep.MediaPackage.ID == "mp-2" {
			ep.MediaPackage.Elements[0].URI = "urn:mediaarchive:mp-1:1:e1"
		}
	}

	env.publisher.events = nil
	require.NoError(t, env.svc.Repopulate(context.Background(), "search", newPrefixRewriter("https://replay.example")))

	require.Len(t, env.publisher.events, 2, "deleted and broken episodes are skipped")
	byVersion := map[models.Version]events.Event{}
	for _, ev := range env.publisher.events {
		assert.Equal(t, events.Update, ev.Type)
		assert.Equal(t, "search", ev.Target)
		assert.Equal(t, "mp-1", ev.MediaPackageID)
		require.NotNil(t, ev.ACL)
		assert.Equal(t, editorACL, *ev.ACL)
		byVersion[ev.Version] = ev
	}
	require.Contains(t, byVersion, models.Version(1))
	require.Contains(t, byVersion, models.Version(2))
	assert.False(t, byVersion[1].Latest)
	assert.True(t, byVersion[2].Latest)
	assert.Equal(t, "https://replay.example/org-1/mp-1/1/e1", byVersion[1].MediaPackage.Elements[0].URI)
	assert.Equal(t, "https://replay.example/org-1/mp-1/2/e1", byVersion[2].MediaPackage.Elements[0].URI)

	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestArchive_RepopulateCountsPublishFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")
	require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", nil)}}))

	env.publisher.err = errors.New("stream down")
	assert.NoError(t, env.svc.Repopulate(context.Background(), "search", nil))
}

func TestArchive_PopulateIndexSkipsForeignArchivalURIs(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")
	require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", nil)}}))
	require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: "mp-2", Elements: []models.Element{track("e1", "file:///a", nil)}}))
	require.NoError(t, env.svc.Clear(context.Background()))

	for _, ep := range env.repos.e.rows {
		if ep.MediaPackage.ID == "mp-2" {
			ep.MediaPackage.Elements[0].URI = "http://not.archival/e1"
		}
	}
	require.NoError(t, env.svc.PopulateIndex(context.Background(), nil))

	n, err := env.index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestArchive_PopulateIndexCountsFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	env.content("file:///a", "a")
	require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: "mp-1", Elements: []models.Element{track("e1", "file:///a", nil)}}))
	require.NoError(t, env.svc.Add(editor(), &models.MediaPackage{ID: "mp-2", Elements: []models.Element{track("e1", "file:///a", nil)}}))
	require.NoError(t, env.svc.Clear(context.Background()))

	rw := rewriterFunc(func(p models.StoragePath) (string, error) {
		if p.MediaPackageID == "mp-1" {
			return "", errors.New("no route")
		}
		return "https://ok.example/" + p.Key(), nil
	})
	require.NoError(t, env.svc.PopulateIndex(context.Background(), rw))

	n, err := env.index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
