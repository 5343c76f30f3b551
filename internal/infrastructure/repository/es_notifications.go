package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/domain/notification"
)

const notificationMapping = `{
  "mappings": {
    "properties": {
      "id":          {"type": "keyword"},
      "tenant_id":   {"type": "keyword"},
      "account_id":  {"type": "keyword"},
      "type":        {"type": "keyword"},
      "channel":     {"type": "keyword"},
      "status":      {"type": "keyword"},
      "priority":    {"type": "keyword"},
      "title":       {"type": "text"},
      "body":        {"type": "text"},
      "data":        {"type": "object", "enabled": true},
      "external_id": {"type": "keyword"},
      "error":       {"type": "text"},
      "created_at":  {"type": "date"},
      "updated_at":  {"type": "date"},
      "sent_at":     {"type": "date"},
      "delivered_at":{"type": "date"},
      "read_at":     {"type": "date"}
    }
  }
}`

// ESNotificationRepository stores notification rows in a single
// Elasticsearch index, one document per notification, documents keyed
// by the notification id. Create uses op_type=create so a duplicate id
// comes back as a 409, which is what makes idempotent sends safe under
// concurrency.
type ESNotificationRepository struct {
	client *elasticsearch.Client
	index  string
	logger *zap.Logger
}

func NewESNotificationRepository(client *elasticsearch.Client, index string, logger *zap.Logger) *ESNotificationRepository {
	if index == "" {
		index = "notifications"
	}
	return &ESNotificationRepository{client: client, index: index, logger: logger}
}

// EnsureIndex creates the index with its mapping when it does not exist
// yet. Called once at startup.
func (r *ESNotificationRepository) EnsureIndex(ctx context.Context) error {
	res, err := r.client.Indices.Exists([]string{r.index}, r.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %q: %w", r.index, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index %q: %s", r.index, res.Status())
	}

	res, err = r.client.Indices.Create(r.index,
		r.client.Indices.Create.WithContext(ctx),
		r.client.Indices.Create.WithBody(strings.NewReader(notificationMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index %q: %w", r.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %q: %s", r.index, res.Status())
	}
	r.logger.Info("created elasticsearch index", zap.String("index", r.index))
	return nil
}

func (r *ESNotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	res, err := r.client.Create(r.index, n.ID, bytes.NewReader(body),
		r.client.Create.WithContext(ctx),
		r.client.Create.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("index notification %s: %w", n.ID, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusConflict {
		return notification.ErrAlreadyExists
	}
	if res.IsError() {
		return fmt.Errorf("index notification %s: %s", n.ID, res.Status())
	}
	return nil
}

func (r *ESNotificationRepository) GetByID(ctx context.Context, id string) (*notification.Notification, error) {
	res, err := r.client.Get(r.index, id, r.client.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, notification.ErrNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("get notification %s: %s", id, res.Status())
	}
	var envelope struct {
		Source notification.Notification `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode notification %s: %w", id, err)
	}
	return &envelope.Source, nil
}

func (r *ESNotificationRepository) Update(ctx context.Context, n *notification.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	res, err := r.client.Index(r.index, bytes.NewReader(body),
		r.client.Index.WithDocumentID(n.ID),
		r.client.Index.WithContext(ctx),
		r.client.Index.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("update notification %s: %w", n.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("update notification %s: %s", n.ID, res.Status())
	}
	return nil
}

func (r *ESNotificationRepository) List(ctx context.Context, f notification.Filter) (*notification.Page, error) {
	filters := []map[string]any{
		{"term": map[string]any{"tenant_id": f.TenantID}},
		{"term": map[string]any{"account_id": f.AccountID}},
	}
	if f.Channel != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"channel": f.Channel}})
	}
	boolQuery := map[string]any{"filter": filters}
	if f.UnreadOnly {
		boolQuery["must_not"] = []map[string]any{
			{"exists": map[string]any{"field": "read_at"}},
		}
	}
	query := map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"sort": []map[string]any{
			{"created_at": map[string]any{"order": "desc"}},
			{"id": map[string]any{"order": "desc"}},
		},
		"from":             (f.Page - 1) * f.PageSize,
		"size":             f.PageSize,
		"track_total_hits": true,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("encode search: %w", err)
	}
	res, err := r.client.Search(
		r.client.Search.WithContext(ctx),
		r.client.Search.WithIndex(r.index),
		r.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search notifications: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search notifications: %s", res.Status())
	}

	var result struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source notification.Notification `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode search: %w", err)
	}

	page := &notification.Page{
		Items:      make([]*notification.Notification, 0, len(result.Hits.Hits)),
		TotalCount: result.Hits.Total.Value,
	}
	for i := range result.Hits.Hits {
		n := result.Hits.Hits[i].Source
		page.Items = append(page.Items, &n)
	}

	unread, err := r.unreadCount(ctx, f.TenantID, f.AccountID)
	if err != nil {
		return nil, err
	}
	page.UnreadCount = unread
	return page, nil
}

func (r *ESNotificationRepository) unreadCount(ctx context.Context, tenantID, accountID string) (int64, error) {
	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []map[string]any{
					{"term": map[string]any{"tenant_id": tenantID}},
					{"term": map[string]any{"account_id": accountID}},
				},
				"must_not": []map[string]any{
					{"exists": map[string]any{"field": "read_at"}},
				},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return 0, fmt.Errorf("encode count: %w", err)
	}
	res, err := r.client.Count(
		r.client.Count.WithContext(ctx),
		r.client.Count.WithIndex(r.index),
		r.client.Count.WithBody(&buf),
	)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("count unread: %s", res.Status())
	}
	var result struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode count: %w", err)
	}
	return result.Count, nil
}

func (r *ESNotificationRepository) MarkRead(ctx context.Context, tenantID, accountID string, ids []string, at time.Time) (int64, error) {
	var updated int64
	for _, id := range ids {
		n, err := r.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, notification.ErrNotFound) {
				continue
			}
			return updated, err
		}
		if n.TenantID != tenantID || n.AccountID != accountID || n.ReadAt != nil {
			continue
		}
		readAt := at
		n.Status = notification.StatusRead
		n.ReadAt = &readAt
		n.UpdatedAt = at
		if err := r.Update(ctx, n); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}
