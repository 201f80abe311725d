package watchlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchVesselsNormalizesKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/vessels", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"mmsi": "111000111", "list_id": "L1"},
			{"mmsi": 247039300, "listId": "L2"},
			{"imo": "9000001", "list_id": "L3"}
		]`))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL}, nil)
	vessels, err := c.FetchVessels(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Entry{
		{MMSI: "111000111", ListID: "L1"},
		{MMSI: "247039300", ListID: "L2"},
		{IMO: "9000001", ListID: "L3"},
	}, vessels)
}

func TestClient_FetchListsNormalizesKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/lists", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"list_id": "L1", "list_name": "sanctioned", "color": "#ff0000"},
			{"listId": "L2", "listName": "monitored"},
			{"id": "L3", "name": "fishing"}
		]`))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL}, nil)
	lists, err := c.FetchLists(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []ListInfo{
		{ListID: "L1", ListName: "sanctioned", Color: "#ff0000"},
		{ListID: "L2", ListName: "monitored"},
		{ListID: "L3", ListName: "fishing"},
	}, lists)
}

func TestClient_AuthHeaders(t *testing.T) {
	var testCases = []struct {
		name         string
		authType     string
		expectHeader string
		expectValue  string
	}{
		{name: "bearer", authType: "bearer", expectHeader: "Authorization", expectValue: "Bearer secret"},
		{name: "apikey", authType: "apikey", expectHeader: "X-API-Key", expectValue: "secret"},
		{name: "basic", authType: "basic", expectHeader: "Authorization", expectValue: "Basic secret"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get(tc.expectHeader)
				_, _ = w.Write([]byte(`[]`))
			}))
			defer server.Close()

			c := NewClient(ClientConfig{BaseURL: server.URL, AuthType: tc.authType, AuthToken: "secret"}, nil)
			_, err := c.FetchVessels(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.expectValue, got)
		})
	}
}

func TestClient_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[{"mmsi":"111","list_id":"L1"}]`))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, RetryDelay: time.Millisecond}, nil)
	vessels, err := c.FetchVessels(context.Background())
	require.NoError(t, err)
	assert.Len(t, vessels, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_FailsAfterAllRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, RetryAttempts: 3, RetryDelay: time.Millisecond}, nil)
	_, err := c.FetchVessels(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_FetchAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/vessels":
			_, _ = w.Write([]byte(`[{"mmsi":"111","list_id":"L1"}]`))
		case "/api/lists":
			_, _ = w.Write([]byte(`[{"list_id":"L1","list_name":"sanctioned"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL}, nil)
	vessels, lists, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, vessels, 1)
	assert.Len(t, lists, 1)
}

func TestClient_UpdateVesselByIMO(t *testing.T) {
	var gotPath, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		_, _ = w.Write([]byte(`{"updated":1}`))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL}, nil)
	err := c.UpdateVesselByIMO(context.Background(), "9000001", map[string]any{"mmsi": "333"})
	require.NoError(t, err)
	assert.Equal(t, "/vessels/update-by-imo/9000001", gotPath)
	assert.Equal(t, http.MethodPut, gotMethod)
}
