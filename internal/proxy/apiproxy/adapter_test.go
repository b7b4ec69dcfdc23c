package apiproxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/proxy"
	"github.com/datagate-io/datagate/internal/proxyerr"
)

func TestJoinURL(t *testing.T) {
	cases := []struct {
		base, endpoint, want string
	}{
		{"http://api.internal:8080", "v1/items", "http://api.internal:8080/v1/items"},
		{"http://api.internal:8080/", "v1/items", "http://api.internal:8080/v1/items"},
		{"http://api.internal:8080", "/v1/items", "http://api.internal:8080/v1/items"},
		{"http://api.internal:8080/", "/v1/items", "http://api.internal:8080/v1/items"},
		{"http://api.internal:8080//", "//v1/items", "http://api.internal:8080/v1/items"},
		{"http://api.internal:8080/", "", "http://api.internal:8080"},
	}
	for _, c := range cases {
		if got := JoinURL(c.base, c.endpoint); got != c.want {
			t.Errorf("JoinURL(%q, %q) = %q, want %q", c.base, c.endpoint, got, c.want)
		}
	}
}

func TestExecuteRelaysAndCounts(t *testing.T) {
	var gotPath, gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id": 1}, {"id": 2}, {"id": 3}]`))
	}))
	defer upstream.Close()

	a := New(upstream.Client())
	res, err := a.Execute(context.Background(), proxy.Request{
		Query:  "/v1/items",
		Config: model.ConnectionConfig{BaseURL: upstream.URL + "/"},
		Creds:  model.Credentials{APIKey: "k-123"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotPath != "/v1/items" {
		t.Errorf("upstream path = %q, want /v1/items", gotPath)
	}
	if gotAuth != "Bearer k-123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if res.RowCount != 3 {
		t.Errorf("row count = %d, want 3", res.RowCount)
	}
	if res.TargetKind != proxy.TargetEndpoint {
		t.Errorf("target kind = %q", res.TargetKind)
	}
}

func TestExecuteFallsBackToConfiguredEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/default" {
			t.Errorf("path = %q, want /v1/default", r.URL.Path)
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer upstream.Close()

	a := New(upstream.Client())
	res, err := a.Execute(context.Background(), proxy.Request{
		Config: model.ConnectionConfig{BaseURL: upstream.URL, Endpoint: "v1/default"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RowCount != 1 {
		t.Errorf("object body row count = %d, want 1", res.RowCount)
	}
}

func TestExecuteMapsUpstreamStatus(t *testing.T) {
	cases := []struct {
		status int
		want   proxyerr.Code
	}{
		{http.StatusUnauthorized, proxyerr.CodePermissionDenied},
		{http.StatusForbidden, proxyerr.CodePermissionDenied},
		{http.StatusNotFound, proxyerr.CodeNotFound},
		{http.StatusInternalServerError, proxyerr.CodeStorageError},
		{http.StatusTeapot, proxyerr.CodeValidationError},
	}
	for _, c := range cases {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
		}))
		a := New(upstream.Client())
		_, err := a.Execute(context.Background(), proxy.Request{
			Config: model.ConnectionConfig{BaseURL: upstream.URL, Endpoint: "x"},
		})
		upstream.Close()

		var pe *proxyerr.Error
		if !errors.As(err, &pe) || pe.Code != c.want {
			t.Errorf("status %d mapped to %v, want %s", c.status, err, c.want)
		}
	}
}

func TestExecuteUnreachableIsResumable(t *testing.T) {
	a := New(&http.Client{Timeout: 200 * time.Millisecond})
	_, err := a.Execute(context.Background(), proxy.Request{
		Config: model.ConnectionConfig{BaseURL: "http://127.0.0.1:1", Endpoint: "x"},
	})
	var pe *proxyerr.Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *proxyerr.Error, got %v", err)
	}
	if pe.Code != proxyerr.CodeNetworkError || !pe.Resumable() {
		t.Errorf("connection failure = %v, want resumable NETWORK_ERROR", pe)
	}
}
