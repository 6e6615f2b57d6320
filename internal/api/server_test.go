package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrasnov/sift/internal/model"
)

func TestPathSegments(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/items/abc/retry", nil)
	assert.Equal(t, []string{"abc", "retry"}, pathSegments(r, "/items/"))

	r = httptest.NewRequest(http.MethodGet, "/items/abc/", nil)
	assert.Equal(t, []string{"abc"}, pathSegments(r, "/items/"))

	r = httptest.NewRequest(http.MethodGet, "/items/", nil)
	assert.Nil(t, pathSegments(r, "/items/"))
}

func TestUserIDHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/queues/counts", nil)
	_, ok := userID(r)
	assert.False(t, ok)

	want := uuid.New()
	r.Header.Set(userIDHeader, want.String())
	got, ok := userID(r)
	require.True(t, ok)
	assert.Equal(t, want, got)

	r.Header.Set(userIDHeader, "not-a-uuid")
	_, ok = userID(r)
	assert.False(t, ok)
}

func TestRespondErrorMapping(t *testing.T) {
	s := &Server{logger: slog.New(slog.DiscardHandler)}
	cases := []struct {
		err  error
		want int
	}{
		{model.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("item x: %w", model.ErrNotFound), http.StatusNotFound},
		{model.ErrInvalidState, http.StatusBadRequest},
		{model.ErrNoActionToUndo, http.StatusBadRequest},
		{model.ErrInvalidInput, http.StatusBadRequest},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/items/x", nil)
		s.respondError(w, r, tc.err)
		assert.Equal(t, tc.want, w.Code, "error %v", tc.err)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run on preflight")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/items", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
