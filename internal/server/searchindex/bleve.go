package searchindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/edgengram"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/dmitrijs2005/mediaarchive/internal/logging"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

const (
	textAnalyzerName    = "textEdgeNgram"
	textTokenFilterName = "textEdgeFilter"

	fieldMediaPackage = "mp_id"
	fieldOrganization = "org_id"
	fieldSeries       = "series_id"
	fieldVersion      = "version"
	fieldLatest       = "latest"
	fieldDeleted      = "deleted"
	fieldModified     = "modified"
	fieldText         = "text"
	fieldPayload      = "payload"

	// unboundedLimit caps queries that do not set a limit.
	unboundedLimit = 10000
	clearBatchSize = 500
)

func buildIndexMapping() (mapping.IndexMapping, error) {
	keyword := bleve.NewKeywordFieldMapping()
	keyword.IncludeInAll = false

	numeric := bleve.NewNumericFieldMapping()
	numeric.IncludeInAll = false

	boolean := bleve.NewBooleanFieldMapping()
	boolean.IncludeInAll = false

	datetime := bleve.NewDateTimeFieldMapping()
	datetime.IncludeInAll = false

	text := bleve.NewTextFieldMapping()
	text.Analyzer = textAnalyzerName

	payload := bleve.NewTextFieldMapping()
	payload.Index = false
	payload.Store = true
	payload.IncludeInAll = false
	payload.IncludeTermVectors = false

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(fieldMediaPackage, keyword)
	doc.AddFieldMappingsAt(fieldOrganization, keyword)
	doc.AddFieldMappingsAt(fieldSeries, keyword)
	doc.AddFieldMappingsAt(fieldVersion, numeric)
	doc.AddFieldMappingsAt(fieldLatest, boolean)
	doc.AddFieldMappingsAt(fieldDeleted, boolean)
	doc.AddFieldMappingsAt(fieldModified, datetime)
	doc.AddFieldMappingsAt(fieldText, text)
	doc.AddFieldMappingsAt(fieldPayload, payload)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = textAnalyzerName

	if err := im.AddCustomTokenFilter(textTokenFilterName, map[string]any{
		"type": edgengram.Name,
		"min":  2.0,
		"max":  25.0,
	}); err != nil {
		return nil, fmt.Errorf("add token filter: %w", err)
	}

	if err := im.AddCustomAnalyzer(textAnalyzerName, map[string]any{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			textTokenFilterName,
		},
	}); err != nil {
		return nil, fmt.Errorf("add analyzer: %w", err)
	}

	return im, nil
}

// BleveIndex is the bleve implementation of Index.
type BleveIndex struct {
	// mu serializes read-modify-write updates of the latest/deleted flags.
	mu     sync.Mutex
	bi     bleve.Index
	logger logging.Logger
}

// NewMemOnly builds an index that lives only in memory.
func NewMemOnly(logger logging.Logger) (*BleveIndex, error) {
	m, err := buildIndexMapping()
	if err != nil {
		return nil, err
	}
	bi, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &BleveIndex{bi: bi, logger: logger}, nil
}

// Open opens the on-disk index at path, creating it when missing. An empty
// path yields an in-memory index.
func Open(path string, logger logging.Logger) (*BleveIndex, error) {
	if path == "" {
		return NewMemOnly(logger)
	}

	bi, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		m, merr := buildIndexMapping()
		if merr != nil {
			return nil, merr
		}
		bi, err = bleve.New(path, m)
	}
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return &BleveIndex{bi: bi, logger: logger}, nil
}

func (idx *BleveIndex) Close() error {
	return idx.bi.Close()
}

func docID(mediaPackageID string, v models.Version) string {
	return mediaPackageID + "/" + v.String()
}

func searchableText(item models.ResultItem) string {
	mp := item.MediaPackage
	parts := []string{mp.ID, mp.Title, mp.SeriesID}
	for _, e := range mp.Elements {
		parts = append(parts, e.Flavor)
		parts = append(parts, e.Tags...)
	}
	return strings.Join(parts, " ")
}

func toDocument(item models.ResultItem) (map[string]any, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	doc := map[string]any{
		fieldMediaPackage: item.MediaPackage.ID,
		fieldOrganization: item.OrganizationID,
		fieldSeries:       item.MediaPackage.SeriesID,
		fieldVersion:      float64(item.Version),
		fieldLatest:       item.Latest,
		fieldDeleted:      item.Deleted,
		fieldText:         searchableText(item),
		fieldPayload:      string(payload),
	}
	if !item.ModifiedAt.IsZero() {
		doc[fieldModified] = item.ModifiedAt
	}
	return doc, nil
}

func fromHit(fields map[string]any) (models.ResultItem, error) {
	var item models.ResultItem
	raw, ok := fields[fieldPayload].(string)
	if !ok {
		return item, errors.New("index hit without payload")
	}
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return item, fmt.Errorf("decode payload: %w", err)
	}
	return item, nil
}

// versionsOf returns every indexed version of the package.
func (idx *BleveIndex) versionsOf(mediaPackageID string) ([]models.ResultItem, error) {
	q := bleve.NewTermQuery(mediaPackageID)
	q.SetField(fieldMediaPackage)

	req := bleve.NewSearchRequestOptions(q, unboundedLimit, 0, false)
	req.Fields = []string{fieldPayload}

	res, err := idx.bi.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", mediaPackageID, err)
	}

	items := make([]models.ResultItem, 0, len(res.Hits))
	for _, h := range res.Hits {
		item, err := fromHit(h.Fields)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (idx *BleveIndex) Add(ctx context.Context, item models.ResultItem) error {
	if item.MediaPackage == nil {
		return errors.New("index entry without media package")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	batch := idx.bi.NewBatch()

	if item.Latest {
		others, err := idx.versionsOf(item.MediaPackage.ID)
		if err != nil {
			return err
		}
		for _, o := range others {
			if !o.Latest || o.Version == item.Version {
				continue
			}
			o.Latest = false
			doc, err := toDocument(o)
			if err != nil {
				return err
			}
			if err := batch.Index(docID(o.MediaPackage.ID, o.Version), doc); err != nil {
				return err
			}
		}
	}

	doc, err := toDocument(item)
	if err != nil {
		return err
	}
	if err := batch.Index(docID(item.MediaPackage.ID, item.Version), doc); err != nil {
		return err
	}
	if err := idx.bi.Batch(batch); err != nil {
		return fmt.Errorf("index %s: %w", item.MediaPackage.ID, err)
	}

	idx.logger.Debug(ctx, "episode indexed", "mp", item.MediaPackage.ID, "version", item.Version, "latest", item.Latest)
	return nil
}

func buildQuery(q models.Query) query.Query {
	var conjuncts []query.Query

	term := func(value, field string) {
		tq := bleve.NewTermQuery(value)
		tq.SetField(field)
		conjuncts = append(conjuncts, tq)
	}
	flag := func(value bool, field string) {
		bq := bleve.NewBoolFieldQuery(value)
		bq.SetField(field)
		conjuncts = append(conjuncts, bq)
	}

	if q.MediaPackageID != "" {
		term(q.MediaPackageID, fieldMediaPackage)
	}
	if q.OrganizationID != "" {
		term(q.OrganizationID, fieldOrganization)
	}
	if q.SeriesID != "" {
		term(q.SeriesID, fieldSeries)
	}
	if q.OnlyLastVersion {
		flag(true, fieldLatest)
	}
	if !q.IncludeDeleted {
		flag(false, fieldDeleted)
	}
	if q.Text != "" {
		mq := bleve.NewMatchQuery(q.Text)
		mq.SetField(fieldText)
		mq.SetOperator(query.MatchQueryOperatorAnd)
		conjuncts = append(conjuncts, mq)
	}

	if len(conjuncts) == 0 {
		return bleve.NewMatchAllQuery()
	}
	return bleve.NewConjunctionQuery(conjuncts...)
}

func (idx *BleveIndex) Find(ctx context.Context, q models.Query) (*models.SearchResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = unboundedLimit
	}

	req := bleve.NewSearchRequestOptions(buildQuery(q), limit, q.Offset, false)
	req.Fields = []string{fieldPayload}
	req.SortBy([]string{fieldMediaPackage, "-" + fieldVersion})

	res, err := idx.bi.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := &models.SearchResult{
		Items:      make([]models.ResultItem, 0, len(res.Hits)),
		Query:      q,
		TotalSize:  int64(res.Total),
		Offset:     q.Offset,
		Limit:      q.Limit,
		SearchTime: res.Took,
	}
	for _, h := range res.Hits {
		item, err := fromHit(h.Fields)
		if err != nil {
			idx.logger.Warn(ctx, "skipping unreadable index hit", "id", h.ID, "error", err)
			continue
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (idx *BleveIndex) Delete(ctx context.Context, mediaPackageID string, at time.Time) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	items, err := idx.versionsOf(mediaPackageID)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		return false, nil
	}

	batch := idx.bi.NewBatch()
	for _, it := range items {
		it.Deleted = true
		it.Latest = false
		it.ModifiedAt = at
		doc, err := toDocument(it)
		if err != nil {
			return false, err
		}
		if err := batch.Index(docID(it.MediaPackage.ID, it.Version), doc); err != nil {
			return false, err
		}
	}
	if err := idx.bi.Batch(batch); err != nil {
		return false, fmt.Errorf("delete %s: %w", mediaPackageID, err)
	}

	idx.logger.Debug(ctx, "episode versions marked deleted", "mp", mediaPackageID, "count", len(items))
	return true, nil
}

func (idx *BleveIndex) Count(_ context.Context) (int64, error) {
	n, err := idx.bi.DocCount()
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return int64(n), nil
}

func (idx *BleveIndex) Clear(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := 0
	for {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), clearBatchSize, 0, false)
		res, err := idx.bi.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		if len(res.Hits) == 0 {
			break
		}
		batch := idx.bi.NewBatch()
		for _, h := range res.Hits {
			batch.Delete(h.ID)
		}
		if err := idx.bi.Batch(batch); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		removed += len(res.Hits)
	}

	idx.logger.Info(ctx, "search index cleared", "removed", removed)
	return nil
}
