package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientNormalizesBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"api.example.com", "https://api.example.com/api/v1"},
		{"http://localhost:8080/", "http://localhost:8080/api/v1"},
		{"https://api.example.com/api", "https://api.example.com/api/v1"},
		{"https://api.example.com/v1", "https://api.example.com/api/v1"},
		{"https://api.example.com/custom/v2", "https://api.example.com/custom/v2"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := NewClient(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.BaseURL())
		})
	}
}

func TestLoginSetsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "dev@example.com", body["email"])
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"user":  map[string]string{"id": "u1", "email": "dev@example.com"},
				"token": "jwt-token",
			})
		case "/api/v1/profile":
			assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"user":       map[string]string{"id": "u1", "email": "dev@example.com"},
				"authMethod": "jwt",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	resp, err := c.Login(context.Background(), "dev@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", resp.User.ID)
	assert.Equal(t, "jwt-token", c.Token())

	profile, err := c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jwt", profile.AuthMethod)
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"DOMAIN_NOT_VERIFIED","message":"Domain must be verified first","details":"example.com"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = c.CreateAddress(context.Background(), "hi@example.com", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "DOMAIN_NOT_VERIFIED", apiErr.Code)
	assert.Equal(t, "api error (DOMAIN_NOT_VERIFIED): Domain must be verified first: example.com", apiErr.Error())
}

func TestAPIErrorNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = c.ListDomains(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestListMailBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/mail", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "example.com", q.Get("domain"))
		assert.Equal(t, "false", q.Get("isRead"))
		assert.Equal(t, "10", q.Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"emails":     []map[string]string{{"id": "e1", "subject": "hello"}},
			"pagination": map[string]interface{}{"total": 1, "limit": 10, "offset": 0, "hasMore": false},
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	list, err := c.ListMail(context.Background(), MailFilter{Domain: "example.com", Unread: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, list.Emails, 1)
	assert.Equal(t, "hello", list.Emails[0].Subject)
	assert.Equal(t, int64(1), list.Pagination.Total)
}
