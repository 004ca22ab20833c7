package lookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orgs/CIEL/sources/CIEL/concepts/", r.URL.Path)
		assert.Equal(t, "malaria", r.URL.Query().Get("q"))
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		w.Write([]byte(`[{"version_url": "/orgs/CIEL/sources/CIEL/concepts/A/1/"}, {"version_url": ""}, {"version_url": "/orgs/CIEL/sources/CIEL/concepts/B/3/"}]`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, zerolog.Nop())
	uris, err := client.Fetch(context.Background(), "/orgs/CIEL/sources/CIEL/concepts/?q=malaria", &terminology.User{Token: "secret"})

	require.NoError(t, err)
	assert.Equal(t, []string{"/orgs/CIEL/sources/CIEL/concepts/A/1/", "/orgs/CIEL/sources/CIEL/concepts/B/3/"}, uris)
}

func TestFetchSingleObject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version_url": "/orgs/CIEL/sources/CIEL/mappings/M/2/"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, zerolog.Nop())
	uris, err := client.Fetch(context.Background(), "/orgs/CIEL/sources/CIEL/mappings/?q=x", nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"/orgs/CIEL/sources/CIEL/mappings/M/2/"}, uris)
}

func TestFetchErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, zerolog.Nop())
	_, err := client.Fetch(context.Background(), "/orgs/CIEL/sources/CIEL/concepts/?q=x", nil)
	assert.Error(t, err)
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	_, err := client.Fetch(context.Background(), "/orgs/CIEL/sources/CIEL/concepts/?q=x", nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchNotConfigured(t *testing.T) {
	client := NewClient(Config{}, zerolog.Nop())
	_, err := client.Fetch(context.Background(), "/orgs/CIEL/sources/CIEL/concepts/?q=x", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFetchOpensCircuit(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, BreakerFailures: 2, BreakerCooldown: time.Minute}, zerolog.Nop())
	for i := 0; i < 2; i++ {
		_, err := client.Fetch(context.Background(), "/orgs/CIEL/sources/CIEL/concepts/?q=x", nil)
		require.Error(t, err)
	}

	_, err := client.Fetch(context.Background(), "/orgs/CIEL/sources/CIEL/concepts/?q=x", nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, calls, "an open circuit fails without calling the server")
}
