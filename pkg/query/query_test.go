package query_test

import (
	"testing"

	"github.com/JaimeStill/docflow/pkg/query"
)

func circuitProjection() *query.ProjectionMap {
	return query.NewProjectionMap("public", "circuits", "c").
		Project("id", "id").
		Project("title", "title").
		Project("is_active", "isActive").
		Project("created_at", "createdAt")
}

func ptr(s string) *string { return &s }

const circuitSelect = "SELECT c.id, c.title, c.is_active, c.created_at FROM public.circuits c"

func TestProjectionMap(t *testing.T) {
	p := circuitProjection()

	if got := p.Table(); got != "public.circuits c" {
		t.Errorf("Table() = %q", got)
	}
	if got := p.Alias(); got != "c" {
		t.Errorf("Alias() = %q", got)
	}
	if got := p.Columns(); got != "c.id, c.title, c.is_active, c.created_at" {
		t.Errorf("Columns() = %q", got)
	}
	if got := len(p.ColumnList()); got != 4 {
		t.Errorf("len(ColumnList()) = %d, want 4", got)
	}

	tests := []struct {
		viewName string
		want     string
	}{
		{"title", "c.title"},
		{"isActive", "c.is_active"},
		{"unknown", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.viewName, func(t *testing.T) {
			if got := p.Column(tt.viewName); got != tt.want {
				t.Errorf("Column(%q) = %q, want %q", tt.viewName, got, tt.want)
			}
		})
	}
}

func TestProjectionMapJoin(t *testing.T) {
	p := query.NewProjectionMap("public", "circuit_steps", "s").
		Project("id", "id").
		Join("public", "approval_rules", "r", "LEFT JOIN", "r.id = s.approval_rule_id").
		Project("kind", "ruleKind")

	want := "public.circuit_steps s LEFT JOIN public.approval_rules r ON r.id = s.approval_rule_id"
	if got := p.From(); got != want {
		t.Errorf("From() = %q, want %q", got, want)
	}
	if got := p.Column("ruleKind"); got != "r.kind" {
		t.Errorf("Column(ruleKind) = %q, want r.kind", got)
	}

	sql, _ := query.NewBuilder(p).Build()
	wantSQL := "SELECT s.id, r.kind FROM " + want
	if sql != wantSQL {
		t.Errorf("Build() = %q, want %q", sql, wantSQL)
	}
}

func TestBuilderDefaultSort(t *testing.T) {
	b := query.NewBuilder(circuitProjection(), query.SortField{Field: "createdAt", Descending: true})

	sql, _ := b.Build()
	if want := circuitSelect + " ORDER BY c.created_at DESC"; sql != want {
		t.Errorf("default sort sql = %q, want %q", sql, want)
	}

	sql, _ = b.OrderByFields([]query.SortField{{Field: "title"}}).Build()
	if want := circuitSelect + " ORDER BY c.title ASC"; sql != want {
		t.Errorf("override sql = %q, want %q", sql, want)
	}
}

func TestParseSortFields(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []query.SortField
	}{
		{"empty", "", nil},
		{"single ascending", "title", []query.SortField{{Field: "title"}}},
		{"single descending", "-createdAt", []query.SortField{{Field: "createdAt", Descending: true}}},
		{
			"mixed with spaces and empty parts",
			" title ,, -createdAt ",
			[]query.SortField{{Field: "title"}, {Field: "createdAt", Descending: true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := query.ParseSortFields(tt.input)
			if tt.want == nil {
				if got != nil {
					t.Errorf("ParseSortFields(%q) = %v, want nil", tt.input, got)
				}
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseSortFields(%q) length = %d, want %d", tt.input, len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseSortFields(%q)[%d] = %v, want %v", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBuilder(t *testing.T) {
	active := true

	tests := []struct {
		name     string
		build    func(*query.Builder) (string, []any)
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "plain select",
			build:   func(b *query.Builder) (string, []any) { return b.Build() },
			wantSQL: circuitSelect,
		},
		{
			name:    "count",
			build:   func(b *query.Builder) (string, []any) { return b.BuildCount() },
			wantSQL: "SELECT COUNT(*) FROM public.circuits c",
		},
		{
			name: "page",
			build: func(b *query.Builder) (string, []any) {
				return b.OrderByFields([]query.SortField{{Field: "title"}}).BuildPage(2, 10)
			},
			wantSQL: circuitSelect + " ORDER BY c.title ASC LIMIT 10 OFFSET 10",
		},
		{
			name:     "single by id",
			build:    func(b *query.Builder) (string, []any) { return b.BuildSingle("id", "abc") },
			wantSQL:  circuitSelect + " WHERE c.id = $1",
			wantArgs: []any{"abc"},
		},
		{
			name: "equals skips nil pointer",
			build: func(b *query.Builder) (string, []any) {
				var none *bool
				return b.WhereEquals("isActive", none).Build()
			},
			wantSQL: circuitSelect,
		},
		{
			name: "equals and contains numbered in order",
			build: func(b *query.Builder) (string, []any) {
				return b.WhereEquals("isActive", &active).WhereContains("title", ptr("rev")).Build()
			},
			wantSQL:  circuitSelect + " WHERE c.is_active = $1 AND c.title ILIKE $2",
			wantArgs: []any{&active, "%rev%"},
		},
		{
			name: "contains skips empty",
			build: func(b *query.Builder) (string, []any) {
				return b.WhereContains("title", ptr("")).Build()
			},
			wantSQL: circuitSelect,
		},
		{
			name: "search across fields",
			build: func(b *query.Builder) (string, []any) {
				return b.WhereSearch(ptr("x"), "title", "id").Build()
			},
			wantSQL:  circuitSelect + " WHERE (c.title ILIKE $1 OR c.id ILIKE $2)",
			wantArgs: []any{"%x%", "%x%"},
		},
		{
			name: "json contains",
			build: func(b *query.Builder) (string, []any) {
				return b.WhereJSONContains("title", ptr("42")).Build()
			},
			wantSQL:  circuitSelect + " WHERE c.title @> jsonb_build_array($1::text)",
			wantArgs: []any{"42"},
		},
		{
			name: "json contains skips nil",
			build: func(b *query.Builder) (string, []any) {
				return b.WhereJSONContains("title", nil).Build()
			},
			wantSQL: circuitSelect,
		},
		{
			name: "explicit order",
			build: func(b *query.Builder) (string, []any) {
				return b.OrderByFields(query.ParseSortFields("-createdAt")).Build()
			},
			wantSQL: circuitSelect + " ORDER BY c.created_at DESC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := query.NewBuilder(circuitProjection())
			sql, args := tt.build(b)

			if sql != tt.wantSQL {
				t.Errorf("sql = %q, want %q", sql, tt.wantSQL)
			}
			if len(args) != len(tt.wantArgs) {
				t.Fatalf("args = %v, want %v", args, tt.wantArgs)
			}
			for i := range args {
				if args[i] != tt.wantArgs[i] {
					t.Errorf("args[%d] = %v, want %v", i, args[i], tt.wantArgs[i])
				}
			}
		})
	}
}
