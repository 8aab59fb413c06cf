package adapter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rinha-relay/model"
)

func testPayload() model.ProcessorPayload {
	return model.NewProcessorPayload(model.DispatchRequest{
		CorrelationId: "4a7901b8-7d26-4d9d-aa19-4dc1c7cf60b3",
		Amount:        decimal.NewNullDecimal(decimal.RequireFromString("19.90")),
		RequestedAt:   time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC),
	})
}

func TestProcessorClientSend(t *testing.T) {
	var (
		gotPath, gotMethod, gotContentType string
		gotBody                            []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewProcessorClient(model.ProcessorDefault, server.URL+"/", NewHTTPClient(8), time.Second)
	status, err := client.Send(context.Background(), testPayload())

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/payments", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t,
		`{"correlationId":"4a7901b8-7d26-4d9d-aa19-4dc1c7cf60b3","amount":19.9,"requestedAt":"2025-07-10T12:00:00.000Z"}`,
		string(gotBody))
	assert.Equal(t, model.ProcessorDefault, client.Name())
}

func TestProcessorClientReturnsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewProcessorClient(model.ProcessorFallback, server.URL, NewHTTPClient(8), time.Second)
	status, err := client.Send(context.Background(), testPayload())

	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestProcessorClientUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewProcessorClient(model.ProcessorDefault, url, NewHTTPClient(8), time.Second)
	status, err := client.Send(context.Background(), testPayload())

	assert.ErrorIs(t, err, model.ErrProcessorUnreachable)
	assert.Zero(t, status)
}

func TestProcessorClientTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewProcessorClient(model.ProcessorDefault, server.URL, NewHTTPClient(8), 50*time.Millisecond)
	start := time.Now()
	status, err := client.Send(context.Background(), testPayload())

	assert.ErrorIs(t, err, model.ErrProcessorUnreachable)
	assert.Zero(t, status)
	assert.Less(t, time.Since(start), time.Second)
}
