package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapOrder(t *testing.T) {
	var got []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = append(got, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		got = append(got, "handler")
	}), tag("outer"), tag("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, got)
}

func TestMakeRouteFinder(t *testing.T) {
	find := MakeRouteFinder([]string{
		"GET /api/fares",
		"POST /api/orders",
		"GET /api/orders/{code}",
		"POST /api/orders/{code}/confirm",
	})

	tests := []struct {
		method string
		target string
		want   string
		ok     bool
	}{
		{http.MethodGet, "/api/fares", "GET /api/fares", true},
		{http.MethodPost, "/api/orders", "POST /api/orders", true},
		{http.MethodGet, "/api/orders/O%2F24.0001", "GET /api/orders/{code}", true},
		{http.MethodGet, "/api/orders/O%2F24.0002", "GET /api/orders/{code}", true},
		{http.MethodPost, "/api/orders/O%2F24.0001/confirm", "POST /api/orders/{code}/confirm", true},
		{http.MethodDelete, "/api/orders", "", false},
		{http.MethodGet, "/api/unknown", "", false},
		{http.MethodGet, "/api/orders/x/y/z", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, nil)
			route, ok := find(r)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, route)
		})
	}
}

func TestMakeRouteFinderMethodless(t *testing.T) {
	find := MakeRouteFinder([]string{"/livez", "/readyz"})
	for _, method := range []string{http.MethodGet, http.MethodHead} {
		r := httptest.NewRequest(method, "/livez", nil)
		route, ok := find(r)
		require.True(t, ok)
		assert.Equal(t, "/livez", route)
	}
}
