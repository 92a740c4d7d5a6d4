package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"busticket/internal/config"
	"busticket/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const (
	KindCallback = "callback"
	KindEvent    = "event"
)

// Document is one entry of the audit index.
type Document struct {
	Kind             string          `json:"kind"`
	Subject          string          `json:"subject,omitempty"`
	Provider         models.Provider `json:"provider,omitempty"`
	MerchantOrderRef string          `json:"merchant_order_ref,omitempty"`
	OrderID          int64           `json:"order_id,omitempty"`
	Status           string          `json:"status,omitempty"`
	Outcome          string          `json:"outcome,omitempty"`
	Valid            *bool           `json:"valid,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// AuditIndex записывает callback'и платежных шлюзов и доменные события в Elasticsearch
type AuditIndex struct {
	client *elasticsearch.Client
	config config.ElasticsearchConfig
}

func NewAuditIndex(cfg config.ElasticsearchConfig) (*AuditIndex, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{cfg.URL},
		Username:      cfg.Username,
		Password:      cfg.Password,
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	idx := &AuditIndex{client: es, config: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := idx.ensureIndex(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure index exists: %w", err)
	}
	return idx, nil
}

// ensureIndex создает индекс если он не существует
func (a *AuditIndex) ensureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{a.config.Index}}.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK {
		slog.Info("Elasticsearch index already exists", "index", a.config.Index)
		return nil
	}

	keyword := map[string]interface{}{"type": "keyword"}
	mapping := map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"kind":               keyword,
				"subject":            keyword,
				"provider":           keyword,
				"merchant_order_ref": keyword,
				"status":             keyword,
				"outcome":            keyword,
				"order_id":           map[string]interface{}{"type": "long"},
				"valid":              map[string]interface{}{"type": "boolean"},
				"payload":            map[string]interface{}{"type": "object", "enabled": false},
				"occurred_at":        map[string]interface{}{"type": "date"},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	createRes, err := esapi.IndicesCreateRequest{
		Index: a.config.Index,
		Body:  bytes.NewReader(body),
	}.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return fmt.Errorf("failed to create index: %s", createRes.String())
	}

	slog.Info("Created Elasticsearch index", "index", a.config.Index)
	return nil
}

// RecordCallback indexes one inbound provider callback.
func (a *AuditIndex) RecordCallback(ctx context.Context, audit models.CallbackAudit) error {
	return a.index(ctx, CallbackDocument(audit))
}

// IndexEvent indexes a domain event as published on subject.
func (a *AuditIndex) IndexEvent(ctx context.Context, subject string, data []byte, at time.Time) error {
	doc, err := EventDocument(subject, data, at)
	if err != nil {
		return err
	}
	return a.index(ctx, doc)
}

func (a *AuditIndex) index(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal audit document: %w", err)
	}

	res, err := esapi.IndexRequest{
		Index: a.config.Index,
		Body:  bytes.NewReader(body),
	}.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("failed to index %s document: %w", doc.Kind, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("indexing error: %s", res.String())
	}
	return nil
}

// HealthCheck проверяет состояние Elasticsearch
func (a *AuditIndex) HealthCheck(ctx context.Context) error {
	res, err := esapi.ClusterHealthRequest{
		WaitForStatus: "yellow",
		Timeout:       10 * time.Second,
	}.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("health check error: %s", res.String())
	}
	return nil
}

func CallbackDocument(audit models.CallbackAudit) Document {
	valid := audit.Valid
	return Document{
		Kind:             KindCallback,
		Provider:         audit.Provider,
		MerchantOrderRef: audit.MerchantOrderRef,
		Status:           string(audit.Status),
		Outcome:          audit.Outcome,
		Valid:            &valid,
		OccurredAt:       audit.ReceivedAt,
	}
}

// EventDocument lifts the fields every event shares out of its JSON payload.
func EventDocument(subject string, data []byte, at time.Time) (Document, error) {
	var common struct {
		OrderID          int64           `json:"order_id"`
		MerchantOrderRef string          `json:"merchant_order_ref"`
		Provider         models.Provider `json:"provider"`
		Status           string          `json:"status"`
		OrderStatus      string          `json:"order_status"`
		Timestamp        time.Time       `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &common); err != nil {
		return Document{}, fmt.Errorf("failed to decode %s event: %w", subject, err)
	}

	doc := Document{
		Kind:             KindEvent,
		Subject:          subject,
		Provider:         common.Provider,
		MerchantOrderRef: common.MerchantOrderRef,
		OrderID:          common.OrderID,
		Status:           common.Status,
		Payload:          json.RawMessage(data),
		OccurredAt:       common.Timestamp,
	}
	if doc.Status == "" {
		doc.Status = common.OrderStatus
	}
	if doc.OccurredAt.IsZero() {
		doc.OccurredAt = at
	}
	return doc, nil
}
