package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"busticket/internal/config"
	"busticket/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeES struct {
	mu          sync.Mutex
	indexExists bool
	created     []byte
	docs        [][]byte
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	body, _ := io.ReadAll(r.Body)

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/audit":
		if f.indexExists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/audit":
		f.created = body
		f.indexExists = true
		_, _ = io.WriteString(w, `{"acknowledged":true,"index":"audit"}`)
	case r.Method == http.MethodPost && r.URL.Path == "/audit/_doc":
		f.docs = append(f.docs, body)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"_index":"audit","_id":"1","result":"created"}`)
	case r.URL.Path == "/_cluster/health":
		_, _ = io.WriteString(w, `{"status":"green"}`)
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"unexpected request"}`)
	}
}

func newTestIndex(t *testing.T, es *fakeES) *AuditIndex {
	t.Helper()
	srv := httptest.NewServer(es)
	t.Cleanup(srv.Close)

	idx, err := NewAuditIndex(config.ElasticsearchConfig{
		Enabled:    true,
		URL:        srv.URL,
		Index:      "audit",
		MaxRetries: 0,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	return idx
}

func TestNewAuditIndex_CreatesMapping(t *testing.T) {
	es := &fakeES{}
	newTestIndex(t, es)

	require.NotNil(t, es.created)
	var mapping struct {
		Mappings struct {
			Properties map[string]map[string]interface{} `json:"properties"`
		} `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal(es.created, &mapping))
	assert.Equal(t, "keyword", mapping.Mappings.Properties["merchant_order_ref"]["type"])
	assert.Equal(t, "date", mapping.Mappings.Properties["occurred_at"]["type"])
	assert.Equal(t, false, mapping.Mappings.Properties["payload"]["enabled"])
}

func TestNewAuditIndex_ExistingIndexIsKept(t *testing.T) {
	es := &fakeES{indexExists: true}
	newTestIndex(t, es)
	assert.Nil(t, es.created)
}

func TestRecordCallback(t *testing.T) {
	es := &fakeES{indexExists: true}
	idx := newTestIndex(t, es)

	received := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	err := idx.RecordCallback(context.Background(), models.CallbackAudit{
		Provider:         models.ProviderVNPay,
		MerchantOrderRef: "BT-1",
		Valid:            false,
		Status:           models.PaymentCompleted,
		Outcome:          "invalid_signature",
		ReceivedAt:       received,
	})
	require.NoError(t, err)
	require.Len(t, es.docs, 1)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(es.docs[0], &doc))
	assert.Equal(t, KindCallback, doc["kind"])
	assert.Equal(t, "BT-1", doc["merchant_order_ref"])
	assert.Equal(t, false, doc["valid"])
	assert.Equal(t, "invalid_signature", doc["outcome"])
	assert.Equal(t, "2025-03-01T09:00:00Z", doc["occurred_at"])
}

func TestIndexEvent(t *testing.T) {
	es := &fakeES{indexExists: true}
	idx := newTestIndex(t, es)

	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	err := idx.IndexEvent(context.Background(), models.EventOrderExpired, []byte(`{"order_id":5,"merchant_order_ref":"BT-5"}`), at)
	require.NoError(t, err)
	require.Len(t, es.docs, 1)

	var doc Document
	require.NoError(t, json.Unmarshal(es.docs[0], &doc))
	assert.Equal(t, KindEvent, doc.Kind)
	assert.Equal(t, models.EventOrderExpired, doc.Subject)
	assert.Equal(t, int64(5), doc.OrderID)
	assert.True(t, doc.OccurredAt.Equal(at))
	assert.JSONEq(t, `{"order_id":5,"merchant_order_ref":"BT-5"}`, string(doc.Payload))

	err = idx.IndexEvent(context.Background(), models.EventOrderExpired, []byte("not json"), at)
	assert.Error(t, err)
	assert.Len(t, es.docs, 1)
}

func TestEventDocument_OrderStatusFallback(t *testing.T) {
	doc, err := EventDocument(models.EventTicketsRefunded,
		[]byte(`{"order_id":3,"order_status":"REFUNDED","timestamp":"2025-03-02T10:00:00Z"}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "REFUNDED", doc.Status)
	assert.True(t, doc.OccurredAt.Equal(time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)))
}

func TestHealthCheck(t *testing.T) {
	idx := newTestIndex(t, &fakeES{indexExists: true})
	assert.NoError(t, idx.HealthCheck(context.Background()))
}
