package providerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varnercrm/engagement-platform/internal/engagement"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Config{BaseURL: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)
	return client
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{BaseURL: "http://example.com"})
	assert.Error(t, err, "missing API key")

	_, err = New(Config{APIKey: "k"})
	assert.Error(t, err, "missing base URL")
}

func TestSendText(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(engagement.SendResponse{MessageID: "m-1", Status: "sent"})
	})

	resp, err := client.SendText(context.Background(), "conv-1", "hello", []engagement.Attachment{{URL: "https://cdn/x.png"}}, true)
	require.NoError(t, err)
	assert.Equal(t, "m-1", resp.MessageID)
	assert.Equal(t, "/conversations/conv-1/messages", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "hello", gotBody["text"])
	assert.Equal(t, true, gotBody["ai_enabled"])
}

func TestSendTemplateHitsDedicatedEndpoint(t *testing.T) {
	var gotPath string
	var gotBody engagement.TemplatePayload
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(engagement.SendResponse{MessageID: "t-1", Status: "sent"})
	})

	payload := engagement.TemplatePayload{
		TemplateName: "crm_offer",
		TemplateType: engagement.TemplateOffer,
		LanguageCode: "en",
		Components: []engagement.FilledComponent{
			{Kind: engagement.ComponentBody, Parameters: []string{"Dana", "20% off"}},
		},
	}
	_, err := client.SendTemplate(context.Background(), "conv-1", payload)
	require.NoError(t, err)
	assert.Equal(t, "/conversations/conv-1/template-messages", gotPath)
	assert.Equal(t, payload, gotBody)
}

func TestSendTemplateGenericUsesMessageEndpoint(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(engagement.SendResponse{MessageID: "g-1", Status: "queued"})
	})

	payload := engagement.TemplatePayload{TemplateName: "crm_engagement", Fallback: true}
	resp, err := client.SendTemplateGeneric(context.Background(), "conv-1", payload)
	require.NoError(t, err)
	assert.Equal(t, "/conversations/conv-1/messages", gotPath)
	assert.Equal(t, "g-1", resp.MessageID)
}

func TestFetchMessages(t *testing.T) {
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(historyResponse{Messages: []engagement.HistoryMessage{
			{ID: "m1", Direction: "inbound", Type: "text", Text: "hi", Timestamp: ts},
		}})
	})

	msgs, err := client.FetchMessages(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.True(t, msgs[0].Timestamp.Equal(ts))
}

func TestStatusCodeTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"401 is auth required", http.StatusUnauthorized, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, engagement.ErrAuthRequired)
		}},
		{"403 is auth required", http.StatusForbidden, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, engagement.ErrAuthRequired)
		}},
		{"404 is conversation not found", http.StatusNotFound, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, engagement.ErrConversationNotFound)
		}},
		{"500 is transport failure", http.StatusInternalServerError, func(t *testing.T, err error) {
			var te *engagement.TransportError
			assert.ErrorAs(t, err, &te)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			})
			_, err := client.SendText(context.Background(), "conv-1", "x", nil, false)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestTemplateEndpoint4xxIsTemplateRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"template not approved"}`, http.StatusUnprocessableEntity)
	})

	_, err := client.SendTemplate(context.Background(), "conv-1", engagement.TemplatePayload{TemplateName: "crm_news"})
	require.Error(t, err)
	var rejected *engagement.TemplateRejectedError
	assert.ErrorAs(t, err, &rejected)
}

func TestNetworkFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	client, err := New(Config{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	srv.Close() // connection refused from here on

	_, err = client.SendText(context.Background(), "conv-1", "x", nil, false)
	require.Error(t, err)
	var te *engagement.TransportError
	assert.ErrorAs(t, err, &te)
	assert.True(t, engagement.IsRetryable(err))
}
