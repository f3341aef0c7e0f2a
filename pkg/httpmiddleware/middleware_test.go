package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrap_Order(t *testing.T) {
	var calls []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(okHandler(), mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, calls)
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{name: "generated", incoming: ""},
		{name: "reused", incoming: "req-42", reuse: true},
		{name: "too long", incoming: strings.Repeat("a", 129)},
		{name: "control chars", incoming: "bad\nid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
			if tt.reuse {
				assert.Equal(t, tt.incoming, seen)
			} else {
				assert.NotEqual(t, tt.incoming, seen)
			}
		})
	}
}

func TestInjectLogger_AndLogRequests(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	r := chi.NewRouter()
	r.Use(LogRequests())
	r.Get("/cafes/{cafeID}/orders", func(w http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("Inside")
		w.WriteHeader(http.StatusTeapot)
	})
	h := Wrap(r, RequestID(), InjectLogger(zap.New(core)))

	req := httptest.NewRequest(http.MethodGet, "/cafes/cafe-1/orders", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	inside := logs.FilterMessage("Inside").All()
	require.Len(t, inside, 1)
	assert.Equal(t, "req-1", inside[0].ContextMap()["request_id"])

	done := logs.FilterMessage("Request").All()
	require.Len(t, done, 1)
	fields := done[0].ContextMap()
	assert.Equal(t, "/cafes/{cafeID}/orders", fields["route"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), InjectLogger(zap.New(core)), Recovery())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"code":500,"message":"internal error"}`, w.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
}

func TestRecovery_AbortHandler(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		cfg        CORSConfig
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantOrigin string
		wantHeader map[string]string
	}{
		{
			name:       "wildcard simple request",
			cfg:        CORSConfig{AllowOrigins: []string{"*"}},
			method:     http.MethodPost,
			origin:     "https://shop.example",
			wantStatus: http.StatusOK,
			wantOrigin: "*",
		},
		{
			name:       "listed origin echoed as configured",
			cfg:        CORSConfig{AllowOrigins: []string{"https://Shop.example"}},
			method:     http.MethodGet,
			origin:     "https://shop.example",
			wantStatus: http.StatusOK,
			wantOrigin: "https://Shop.example",
		},
		{
			name:       "unlisted origin",
			cfg:        CORSConfig{AllowOrigins: []string{"https://shop.example"}},
			method:     http.MethodGet,
			origin:     "https://evil.example",
			wantStatus: http.StatusOK,
		},
		{
			name:       "preflight allows patch by default",
			cfg:        CORSConfig{AllowOrigins: []string{"*"}, AllowHeaders: []string{"Content-Type", "api_key"}, MaxAge: 600},
			method:     http.MethodOptions,
			origin:     "https://admin.example",
			preflight:  true,
			wantStatus: http.StatusNoContent,
			wantOrigin: "*",
			wantHeader: map[string]string{
				"Access-Control-Allow-Methods": "GET, POST, PATCH, DELETE, OPTIONS",
				"Access-Control-Allow-Headers": "Content-Type, api_key",
				"Access-Control-Max-Age":       "600",
			},
		},
		{
			name:       "credentials disable wildcard",
			cfg:        CORSConfig{AllowOrigins: []string{"*", "https://admin.example"}, AllowCredentials: true},
			method:     http.MethodGet,
			origin:     "https://admin.example",
			wantStatus: http.StatusOK,
			wantOrigin: "https://admin.example",
			wantHeader: map[string]string{"Access-Control-Allow-Credentials": "true"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.cfg)(okHandler())
			req := httptest.NewRequest(tt.method, "/api/cafes/cafe-1/orders", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			for k, v := range tt.wantHeader {
				assert.Equal(t, v, w.Header().Get(k), k)
			}
		})
	}
}
