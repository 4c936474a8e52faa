package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/node-sync/internal/nodes"
	"github.com/stacklok/node-sync/internal/store/mocks"
)

func TestNewServer_Routes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		opts       []ServerOption
		listCalls  int
		wantStatus int
	}{
		{name: "records", path: "/records", listCalls: 1, wantStatus: http.StatusOK},
		{name: "nodes", path: "/nodes", listCalls: 1, wantStatus: http.StatusOK},
		{name: "healthz", path: "/healthz", wantStatus: http.StatusOK},
		{name: "version", path: "/version", wantStatus: http.StatusOK},
		{name: "metrics not configured", path: "/metrics", wantStatus: http.StatusNotFound},
		{
			name: "metrics configured",
			path: "/metrics",
			opts: []ServerOption{WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("# metrics"))
			}))},
			wantStatus: http.StatusOK,
		},
		{name: "unknown path", path: "/unknown", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			mockStore := mocks.NewMockStore(ctrl)
			mockStore.EXPECT().ListAll(gomock.Any()).Return([]nodes.Node{}, nil).Times(tt.listCalls)

			router := NewServer(mockStore, tt.opts...)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestWithMiddlewares(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	mockStore := mocks.NewMockStore(ctrl)

	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	router := NewServer(mockStore, WithMiddlewares(mw("first")), WithMiddlewares(mw("second")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	handler := middleware.RequestID(LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/records", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}
