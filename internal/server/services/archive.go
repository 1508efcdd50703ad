// Package services contains the archive's business logic: the orchestrator
// that sequences every write, version and dedup management, and checksum
// enrichment.
package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
	"github.com/dmitrijs2005/mediaarchive/internal/dbx"
	"github.com/dmitrijs2005/mediaarchive/internal/logging"
	"github.com/dmitrijs2005/mediaarchive/internal/server/blobstore"
	"github.com/dmitrijs2005/mediaarchive/internal/server/events"
	"github.com/dmitrijs2005/mediaarchive/internal/server/locks"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/dmitrijs2005/mediaarchive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mediaarchive/internal/server/rewrite"
	"github.com/dmitrijs2005/mediaarchive/internal/server/searchindex"
	"github.com/dmitrijs2005/mediaarchive/internal/server/security"
	"github.com/dmitrijs2005/mediaarchive/internal/server/workflows"
)

const manifestMimeType = "application/json"

// Dependencies are the collaborators of an ArchiveService.
type Dependencies struct {
	DB             *sql.DB
	Repomanager    repomanager.RepositoryManager
	Versions       *VersionManager
	Enricher       *ChecksumEnricher
	Store          blobstore.Store
	Index          searchindex.Index
	ACLs           security.ACLResolver
	Workflows      workflows.Engine
	Events         events.Publisher
	Locker         locks.Locker
	Rewriter       rewrite.URIRewriter // delivery URIs written to the index
	SystemUserName string
	Logger         logging.Logger
}

// ArchiveService is the entry point for archiving, querying and deleting
// episodes. Writes of one media package are serialized by Locker;
// PopulateIndex excludes every write.
type ArchiveService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	versions    *VersionManager
	enricher    *ChecksumEnricher
	store       blobstore.Store
	index       searchindex.Index
	acls        security.ACLResolver
	workflows   workflows.Engine
	events      events.Publisher
	locker      locks.Locker
	rewriter    rewrite.URIRewriter
	systemUser  string
	logger      logging.Logger
	now         func() time.Time

	gate sync.RWMutex
}

func NewArchiveService(d Dependencies) *ArchiveService {
	s := &ArchiveService{
		db:          d.DB,
		repomanager: d.Repomanager,
		versions:    d.Versions,
		enricher:    d.Enricher,
		store:       d.Store,
		index:       d.Index,
		acls:        d.ACLs,
		workflows:   d.Workflows,
		events:      d.Events,
		locker:      d.Locker,
		rewriter:    d.Rewriter,
		systemUser:  d.SystemUserName,
		logger:      d.Logger,
		now:         time.Now,
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.locker == nil {
		s.locker = locks.NewKeyedMutex()
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	if s.systemUser == "" {
		s.systemUser = "system"
	}
	return s
}

// identity returns the acting user and organization. A request without a
// user acts as the organization's anonymous role.
func identity(ctx context.Context) (models.User, models.Organization, error) {
	org, ok := security.OrganizationFrom(ctx)
	if !ok {
		return models.User{}, models.Organization{}, fmt.Errorf("%w: no organization in context", common.ErrorUnauthorized)
	}
	u, ok := security.UserFrom(ctx)
	if !ok {
		var roles []string
		if org.AnonymousRole != "" {
			roles = []string{org.AnonymousRole}
		}
		u = models.User{Username: "anonymous", OrganizationID: org.ID, Roles: roles}
	}
	return u, org, nil
}

// scopedOrg is the organization an archived item is authorized in. Items of
// another organization are checked without that organization's admin role,
// so only global admins and the item's own users pass.
func scopedOrg(org models.Organization, itemOrganizationID string) models.Organization {
	if itemOrganizationID == "" || itemOrganizationID == org.ID {
		return org
	}
	return models.Organization{ID: itemOrganizationID}
}

// validatePackage rejects identifiers that would make two elements share a
// storage path. Media package ids also end up in archival URIs and may not
// contain a colon.
func validatePackage(organizationID string, mp *models.MediaPackage) error {
	if mp == nil {
		return fmt.Errorf("%w: no media package", common.ErrorIncorrectMetadata)
	}
	if !models.ValidSegment(organizationID) {
		return fmt.Errorf("%w: organization id %q", common.ErrorIncorrectMetadata, organizationID)
	}
	if !models.ValidSegment(mp.ID) || strings.Contains(mp.ID, ":") {
		return fmt.Errorf("%w: media package id %q", common.ErrorIncorrectMetadata, mp.ID)
	}

	seen := make(map[string]struct{}, len(mp.Elements))
	for _, e := range mp.Elements {
		if !models.ValidSegment(e.ID) {
			return fmt.Errorf("%w: element id %q", common.ErrorIncorrectMetadata, e.ID)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: duplicate element id %q", common.ErrorIncorrectMetadata, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

// Add archives a new version of mp. The caller's package is never modified.
func (s *ArchiveService) Add(ctx context.Context, mp *models.MediaPackage) error {
	u, org, err := identity(ctx)
	if err != nil {
		return err
	}
	if err := validatePackage(org.ID, mp); err != nil {
		return wrap("add", err)
	}

	acl, err := s.acls.ActiveACL(ctx, mp)
	if err != nil {
		return wrap("resolve acl", err)
	}

	_, err = security.Protect(acl, u, org, []models.Action{models.ActionWrite}, func() (models.Version, error) {
		return s.add(ctx, mp, acl, org)
	})
	return err
}

func (s *ArchiveService) add(ctx context.Context, mp *models.MediaPackage, acl models.ACL, org models.Organization) (models.Version, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()

	unlock, err := s.locker.Lock(ctx, mp.ID)
	if err != nil {
		return 0, wrap("lock", err)
	}
	defer unlock()

	pkg := mp.Clone()

	v, err := s.versions.ClaimVersion(ctx, pkg.ID)
	if err != nil {
		return 0, wrap("claim version", err)
	}
	log := s.logger.With("mp", pkg.ID, "version", v.String())

	pkg, err = s.enricher.EnsureChecksums(ctx, pkg)
	if err != nil {
		return 0, wrap("ensure checksums", err)
	}

	for _, e := range pkg.Assets() {
		path := models.NewStoragePath(org.ID, pkg.ID, v, e.ID)
		stored, err := s.versions.StoreElement(ctx, path, e)
		if err != nil {
			return 0, wrap("store element "+e.ID, err)
		}
		log.Debug(ctx, "element archived", "element", e.ID, "fresh", stored)
	}

	now := s.now().UTC()

	delivered, err := rewrite.ForDelivery(pkg, org.ID, v, s.rewriter)
	if err != nil {
		return 0, wrap("rewrite for delivery", err)
	}
	if err := s.index.Add(ctx, models.ResultItem{
		OrganizationID: org.ID,
		MediaPackage:   delivered,
		ACL:            acl,
		Version:        v,
		Latest:         true,
		ModifiedAt:     now,
	}); err != nil {
		return 0, wrap("index", err)
	}

	archived := rewrite.ForArchival(pkg, v)
	if err := s.repomanager.Episodes(s.db).Store(ctx, &models.Episode{
		OrganizationID: org.ID,
		MediaPackage:   archived,
		ACL:            acl,
		Version:        v,
		CreatedAt:      now,
	}); err != nil {
		return 0, wrap("persist episode", err)
	}

	if err := s.storeManifest(ctx, org.ID, archived, v); err != nil {
		return 0, wrap("store manifest", err)
	}

	s.publish(ctx, events.Event{
		Type:           events.Update,
		OrganizationID: org.ID,
		MediaPackageID: pkg.ID,
		Version:        v,
		Latest:         true,
		MediaPackage:   delivered,
		ACL:            &acl,
		At:             now,
	})
	log.Info(ctx, "episode archived", "elements", len(pkg.Elements))
	return v, nil
}

// manifestElementID returns an element id for the manifest that no element
// of mp already uses.
func manifestElementID(mp *models.MediaPackage) string {
	id := common.ManifestElementID
	for mp.HasElementID(id) {
		id += "_"
	}
	return id
}

func (s *ArchiveService) storeManifest(ctx context.Context, organizationID string, archived *models.MediaPackage, v models.Version) error {
	body, err := json.Marshal(archived)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	path := models.NewStoragePath(organizationID, archived.ID, v, manifestElementID(archived))
	return s.store.Put(ctx, path, bytes.NewReader(body), int64(len(body)), manifestMimeType)
}

func (s *ArchiveService) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn(ctx, "publishing archive event failed", "type", ev.Type, "mp", ev.MediaPackageID, "error", err)
	}
}

// Delete removes every version of a media package. It reports false when
// the package is not in the archive. Only the ACL of the latest version is
// checked.
func (s *ArchiveService) Delete(ctx context.Context, mediaPackageID string) (bool, error) {
	u, org, err := identity(ctx)
	if err != nil {
		return false, err
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	unlock, err := s.locker.Lock(ctx, mediaPackageID)
	if err != nil {
		return false, wrap("lock", err)
	}
	defer unlock()

	latest, err := s.repomanager.Episodes(s.db).GetLatest(ctx, mediaPackageID)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrap("load latest episode", err)
	}

	return security.Protect(latest.ACL, u, scopedOrg(org, latest.OrganizationID), []models.Action{models.ActionWrite}, func() (bool, error) {
		return s.delete(ctx, latest)
	})
}

func (s *ArchiveService) delete(ctx context.Context, latest *models.Episode) (bool, error) {
	mpID := latest.MediaPackage.ID
	now := s.now().UTC()

	if err := s.store.DeleteAll(ctx, latest.OrganizationID, mpID); err != nil {
		return false, wrap("delete content", err)
	}

	var tombstoned int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		n, err := s.repomanager.Episodes(tx).Delete(ctx, mpID, now)
		if err != nil {
			return err
		}
		tombstoned = n
		_, err = s.repomanager.Assets(tx).DeleteForMediaPackage(ctx, latest.OrganizationID, mpID)
		return err
	})
	if err != nil {
		return false, wrap("delete episodes", err)
	}

	if _, err := s.index.Delete(ctx, mpID, now); err != nil {
		return false, wrap("delete index entries", err)
	}

	s.publish(ctx, events.Event{Type: events.Delete, OrganizationID: latest.OrganizationID, MediaPackageID: mpID, Version: latest.Version, At: now})
	s.logger.Info(ctx, "episode deleted", "mp", mpID, "versions", tombstoned)
	return true, nil
}
