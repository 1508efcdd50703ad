package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
	"github.com/dmitrijs2005/mediaarchive/internal/server/blobstore"
	"github.com/dmitrijs2005/mediaarchive/internal/server/events"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/dmitrijs2005/mediaarchive/internal/server/rewrite"
	"github.com/dmitrijs2005/mediaarchive/internal/server/security"
)

// Find queries the index and drops every item the caller may not read.
// TotalSize is reduced by the number of dropped items. A nil rw keeps the
// URIs stored in the index.
func (s *ArchiveService) Find(ctx context.Context, q models.Query, rw rewrite.URIRewriter) (*models.SearchResult, error) {
	u, org, err := identity(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.index.Find(ctx, q)
	if err != nil {
		return nil, wrap("find", err)
	}

	kept := make([]models.ResultItem, 0, len(res.Items))
	for _, item := range res.Items {
		if !security.Authorize(item.ACL, u, scopedOrg(org, item.OrganizationID), models.ActionRead).Allowed() {
			continue
		}
		kept = append(kept, item)
	}
	res.TotalSize -= int64(len(res.Items) - len(kept))
	res.Items = kept

	if err := rewriteItems(res.Items, rw); err != nil {
		return nil, wrap("rewrite for delivery", err)
	}
	return res, nil
}

// FindForAdministrativeRead queries the index without per item checks. The
// caller must be a global admin or the admin of its organization; an
// organization admin only sees its own organization.
func (s *ArchiveService) FindForAdministrativeRead(ctx context.Context, q models.Query, rw rewrite.URIRewriter) (*models.SearchResult, error) {
	u, org, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	if !security.IsAdmin(u, org) {
		return nil, &security.UnauthorizedError{User: u.Username, Actions: []models.Action{models.ActionRead}, Reason: security.ReasonNoGrant}
	}
	if !common.HasRole(u.Roles, security.GlobalAdminRole) {
		q.OrganizationID = org.ID
	}

	res, err := s.index.Find(ctx, q)
	if err != nil {
		return nil, wrap("find", err)
	}
	if err := rewriteItems(res.Items, rw); err != nil {
		return nil, wrap("rewrite for delivery", err)
	}
	return res, nil
}

func rewriteItems(items []models.ResultItem, rw rewrite.URIRewriter) error {
	if rw == nil {
		return nil
	}
	for i, item := range items {
		mp, err := rewrite.ForDelivery(item.MediaPackage, item.OrganizationID, item.Version, rw)
		if err != nil {
			return err
		}
		items[i].MediaPackage = mp
	}
	return nil
}

type lookupOutcome int

const (
	episodeMissing lookupOutcome = iota
	elementMissing
	contentMissing
	found
)

func (o lookupOutcome) String() string {
	switch o {
	case episodeMissing:
		return "episode missing"
	case elementMissing:
		return "element missing"
	case contentMissing:
		return "content missing"
	case found:
		return "found"
	default:
		return fmt.Sprintf("lookupOutcome(%d)", int(o))
	}
}

// Get returns the content of one element of one version. A missing episode,
// element or content yields nil without an error.
func (s *ArchiveService) Get(ctx context.Context, mediaPackageID, elementID string, v models.Version) (*models.ArchivedElement, error) {
	outcome, el, err := s.lookup(ctx, mediaPackageID, elementID, v)
	if err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "element lookup", "mp", mediaPackageID, "element", elementID, "version", v.String(), "outcome", outcome.String())
	return el, nil
}

func (s *ArchiveService) lookup(ctx context.Context, mediaPackageID, elementID string, v models.Version) (lookupOutcome, *models.ArchivedElement, error) {
	u, org, err := identity(ctx)
	if err != nil {
		return episodeMissing, nil, err
	}

	ep, err := s.repomanager.Episodes(s.db).Get(ctx, mediaPackageID, v)
	if errors.Is(err, common.ErrorNotFound) {
		return episodeMissing, nil, nil
	}
	if err != nil {
		return episodeMissing, nil, wrap("load episode", err)
	}

	outcome := episodeMissing
	el, err := security.Protect(ep.ACL, u, scopedOrg(org, ep.OrganizationID), []models.Action{models.ActionRead}, func() (*models.ArchivedElement, error) {
		var (
			el  *models.ArchivedElement
			err error
		)
		outcome, el, err = s.content(ctx, ep, elementID)
		return el, err
	})
	return outcome, el, err
}

func (s *ArchiveService) content(ctx context.Context, ep *models.Episode, elementID string) (lookupOutcome, *models.ArchivedElement, error) {
	e, ok := ep.MediaPackage.ElementByID(elementID)
	if !ok || !e.IsAsset() {
		return elementMissing, nil, nil
	}

	body, err := s.store.Get(ctx, models.NewStoragePath(ep.OrganizationID, ep.MediaPackage.ID, ep.Version, elementID))
	if errors.Is(err, blobstore.ErrNotFound) {
		return contentMissing, nil, nil
	}
	if err != nil {
		return contentMissing, nil, wrap("get content", err)
	}
	return found, &models.ArchivedElement{Content: body, MimeType: e.MimeType, Size: e.Size}, nil
}

// GetDelivered serves the element a signed delivery URL points at. The
// token is the grant, so no ACL is consulted. Like Get, anything missing
// yields nil without an error.
func (s *ArchiveService) GetDelivered(ctx context.Context, token string, tv rewrite.TokenVerifier) (*models.ArchivedElement, error) {
	path, err := tv.Verify(token)
	if err != nil {
		return nil, err
	}

	outcome := episodeMissing
	var el *models.ArchivedElement
	ep, err := s.repomanager.Episodes(s.db).Get(ctx, path.MediaPackageID, path.Version)
	switch {
	case errors.Is(err, common.ErrorNotFound):
	case err != nil:
		return nil, wrap("load episode", err)
	case ep.OrganizationID == path.OrganizationID:
		outcome, el, err = s.content(ctx, ep, path.ElementID)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Debug(ctx, "delivered element lookup", "key", path.Key(), "outcome", outcome.String())
	return el, nil
}

// ApplyWorkflow starts wf on the latest version of every package matching
// q that the caller may write. Failures to start are logged and skipped.
func (s *ArchiveService) ApplyWorkflow(ctx context.Context, wf models.ConfiguredWorkflow, rw rewrite.URIRewriter, q models.Query) ([]*models.WorkflowInstance, error) {
	u, org, err := identity(ctx)
	if err != nil {
		return nil, err
	}

	q.OnlyLastVersion = true
	q.IncludeDeleted = false
	res, err := s.index.Find(ctx, q)
	if err != nil {
		return nil, wrap("find", err)
	}
	return s.applyWorkflow(ctx, u, org, wf, rw, res.Items), nil
}

// ApplyWorkflowToIDs is ApplyWorkflow over an explicit list of packages.
// Unknown ids are ignored.
func (s *ArchiveService) ApplyWorkflowToIDs(ctx context.Context, wf models.ConfiguredWorkflow, rw rewrite.URIRewriter, ids []string) ([]*models.WorkflowInstance, error) {
	u, org, err := identity(ctx)
	if err != nil {
		return nil, err
	}

	var items []models.ResultItem
	for _, id := range ids {
		res, err := s.index.Find(ctx, models.Query{MediaPackageID: id, OnlyLastVersion: true, Limit: 1})
		if err != nil {
			return nil, wrap("find", err)
		}
		items = append(items, res.Items...)
	}
	return s.applyWorkflow(ctx, u, org, wf, rw, items), nil
}

func (s *ArchiveService) applyWorkflow(ctx context.Context, u models.User, org models.Organization, wf models.ConfiguredWorkflow, rw rewrite.URIRewriter, items []models.ResultItem) []*models.WorkflowInstance {
	var started []*models.WorkflowInstance
	for _, item := range items {
		mpID := item.MediaPackage.ID
		if !security.Authorize(item.ACL, u, scopedOrg(org, item.OrganizationID), models.ActionWrite).Allowed() {
			s.logger.Debug(ctx, "skipping workflow on unwritable package", "mp", mpID, "workflow", wf.Definition.ID)
			continue
		}

		mp := item.MediaPackage
		if rw != nil {
			var err error
			mp, err = rewrite.ForDelivery(mp, item.OrganizationID, item.Version, rw)
			if err != nil {
				s.logger.Warn(ctx, "rewriting package for workflow failed", "mp", mpID, "error", err)
				continue
			}
		}

		inst, err := s.workflows.Start(ctx, wf.Definition, mp, wf.Parameters)
		if err != nil {
			s.logger.Warn(ctx, "starting workflow failed", "mp", mpID, "workflow", wf.Definition.ID, "error", err)
			continue
		}
		started = append(started, inst)
	}
	return started
}

// Clear empties the search index. Durable episodes are kept.
func (s *ArchiveService) Clear(ctx context.Context) error {
	s.gate.Lock()
	defer s.gate.Unlock()

	if err := s.index.Clear(ctx); err != nil {
		return wrap("clear index", err)
	}
	s.logger.Info(ctx, "search index cleared")
	return nil
}

// PopulateIndex rebuilds an empty index from the durable store. It does
// nothing when the index has entries. Failures of single episodes are
// logged and counted.
func (s *ArchiveService) PopulateIndex(ctx context.Context, rw rewrite.URIRewriter) error {
	s.gate.Lock()
	defer s.gate.Unlock()

	n, err := s.index.Count(ctx)
	if err != nil {
		return wrap("count index", err)
	}
	if n > 0 {
		s.logger.Info(ctx, "search index not empty, skipping population", "entries", n)
		return nil
	}
	if rw == nil {
		rw = s.rewriter
	}

	all, err := s.repomanager.Episodes(s.db).All(ctx)
	if err != nil {
		return wrap("load episodes", err)
	}

	latest := latestVersions(all)

	var indexed, failed int
	for _, ep := range all {
		if err := s.reindex(ctx, ep, latest, rw); err != nil {
			failed++
			s.logger.Error(ctx, "indexing episode failed", "mp", ep.MediaPackage.ID, "version", ep.Version.String(), "error", err)
			continue
		}
		indexed++
	}

	s.logger.Info(ctx, "search index populated", "indexed", indexed, "errors", failed)
	return nil
}

func (s *ArchiveService) reindex(ctx context.Context, ep *models.Episode, latest map[string]models.Version, rw rewrite.URIRewriter) error {
	org := models.Organization{ID: ep.OrganizationID}
	ctx = security.WithIdentity(ctx, security.SystemUser(s.systemUser, org), org)

	mp, err := deliverable(ep, rw)
	if err != nil {
		return err
	}

	modified := ep.CreatedAt
	if ep.DeletedAt != nil {
		modified = *ep.DeletedAt
	}
	return s.index.Add(ctx, models.ResultItem{
		OrganizationID: ep.OrganizationID,
		MediaPackage:   mp,
		ACL:            ep.ACL,
		Version:        ep.Version,
		Latest:         !ep.Deleted() && latest[ep.MediaPackage.ID] == ep.Version,
		Deleted:        ep.Deleted(),
		ModifiedAt:     modified,
	})
}

// latestVersions maps every package that is not deleted to its newest
// version.
func latestVersions(all []*models.Episode) map[string]models.Version {
	latest := make(map[string]models.Version)
	for _, ep := range all {
		if ep.Deleted() {
			continue
		}
		if ep.Version > latest[ep.MediaPackage.ID] {
			latest[ep.MediaPackage.ID] = ep.Version
		}
	}
	return latest
}

// deliverable checks that every asset of a durable episode points at its own
// archival URI and rewrites the package for delivery at the episode's
// version.
func deliverable(ep *models.Episode, rw rewrite.URIRewriter) (*models.MediaPackage, error) {
	for _, e := range ep.MediaPackage.Assets() {
		mpID, v, elementID, err := rewrite.ParseArchivalURI(e.URI)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", e.ID, err)
		}
		if mpID != ep.MediaPackage.ID || v != ep.Version || elementID != e.ID {
			return nil, fmt.Errorf("%w: element %s of %s version %s points at %q", common.ErrorInvalidURI, e.ID, ep.MediaPackage.ID, ep.Version, e.URI)
		}
	}
	return rewrite.ForDelivery(ep.MediaPackage, ep.OrganizationID, ep.Version, rw)
}

// Repopulate replays every archived episode as an update event addressed to
// target so that an external index can rebuild itself. Packages carry
// delivery URIs bound to their own version. Deleted episodes are not
// replayed. Failures of single episodes are logged and counted.
func (s *ArchiveService) Repopulate(ctx context.Context, target string, rw rewrite.URIRewriter) error {
	if rw == nil {
		rw = s.rewriter
	}

	all, err := s.repomanager.Episodes(s.db).All(ctx)
	if err != nil {
		return wrap("load episodes", err)
	}
	latest := latestVersions(all)

	var sent, failed int
	for _, ep := range all {
		if ep.Deleted() {
			continue
		}
		mp, err := deliverable(ep, rw)
		if err == nil {
			acl := ep.ACL
			err = s.events.Publish(ctx, events.Event{
				Type:           events.Update,
				Target:         target,
				OrganizationID: ep.OrganizationID,
				MediaPackageID: ep.MediaPackage.ID,
				Version:        ep.Version,
				Latest:         latest[ep.MediaPackage.ID] == ep.Version,
				MediaPackage:   mp,
				ACL:            &acl,
				At:             ep.CreatedAt,
			})
		}
		if err != nil {
			failed++
			s.logger.Error(ctx, "replaying episode failed", "target", target, "mp", ep.MediaPackage.ID, "version", ep.Version.String(), "error", err)
			continue
		}
		sent++
	}

	s.logger.Info(ctx, "archive replayed", "target", target, "episodes", sent, "errors", failed)
	return nil
}
