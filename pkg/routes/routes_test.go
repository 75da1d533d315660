package routes_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JaimeStill/docflow/pkg/routes"
)

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	routes.Register(mux, routes.Group{
		Prefix: "/circuits",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: ok},
			{Method: "GET", Pattern: "/{id}", Handler: ok},
		},
		Children: []routes.Group{
			{
				Prefix: "/{id}/steps",
				Routes: []routes.Route{{Method: "POST", Pattern: "", Handler: ok}},
			},
		},
	})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/circuits", http.StatusOK},
		{"GET", "/circuits/abc", http.StatusOK},
		{"POST", "/circuits/abc/steps", http.StatusOK},
		{"DELETE", "/circuits/abc", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAll(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) {}

	groups := []routes.Group{
		{
			Prefix: "/documents/{id}",
			Routes: []routes.Route{{Method: "POST", Pattern: "/move", Handler: ok}},
		},
		{
			Children: []routes.Group{
				{
					Prefix: "/approvals/{id}",
					Routes: []routes.Route{
						{Method: "POST", Pattern: "/responses", Handler: ok},
						{Method: "POST", Pattern: "/withdraw", Handler: ok},
					},
				},
			},
		},
	}

	var got []string
	for pattern := range routes.All(groups...) {
		got = append(got, pattern)
	}

	want := []string{
		"POST /documents/{id}/move",
		"POST /approvals/{id}/responses",
		"POST /approvals/{id}/withdraw",
	}
	if len(got) != len(want) {
		t.Fatalf("patterns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pattern[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if n := routes.Register(http.NewServeMux(), groups...); n != len(want) {
		t.Errorf("Register() = %d, want %d", n, len(want))
	}
}
