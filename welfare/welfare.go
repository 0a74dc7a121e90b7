// Package welfare holds the local program catalog and the search policy that
// keeps the user from ever seeing an empty result list.
package welfare

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"carebridge/log"
	"carebridge/telemetry"

	"gopkg.in/yaml.v3"
)

// Program is one welfare program as returned by the search service.
type Program struct {
	ID          string   `json:"program_id" yaml:"program_id"`
	Name        string   `json:"name" yaml:"name"`
	Category    string   `json:"category" yaml:"category"`
	Description string   `json:"description" yaml:"description"`
	Benefit     string   `json:"benefit" yaml:"benefit"`
	Eligibility []string `json:"eligibility" yaml:"eligibility"`
	HowToApply  string   `json:"how_to_apply" yaml:"how_to_apply"`
	Contact     string   `json:"contact" yaml:"contact"`
	Score       float64  `json:"score" yaml:"score"`
}

// Searcher is the remote ranked search.
type Searcher interface {
	SearchPrograms(ctx context.Context, query string, maxResults int) ([]Program, error)
}

// CategoryLister is the remote category listing.
type CategoryLister interface {
	ListCategories(ctx context.Context) ([]string, error)
}

//go:embed seed.yaml
var seedYAML []byte

type catalog struct {
	Programs   []Program `yaml:"programs"`
	Categories []string  `yaml:"categories"`
}

var seed = mustParse(seedYAML)

func mustParse(data []byte) catalog {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		panic(fmt.Sprintf("welfare: bad seed catalog: %v", err))
	}
	if len(c.Programs) == 0 {
		panic("welfare: seed catalog has no programs")
	}
	return c
}

// Seed returns a copy of the built-in programs.
func Seed() []Program {
	return clone(seed.Programs)
}

// SeedCategories returns a copy of the built-in category names.
func SeedCategories() []string {
	return append([]string(nil), seed.Categories...)
}

func clone(ps []Program) []Program {
	out := make([]Program, len(ps))
	for i, p := range ps {
		p.Eligibility = append([]string(nil), p.Eligibility...)
		out[i] = p
	}
	return out
}

// Filter returns the programs whose name, description or category contains
// query, ignoring case. Order is preserved.
func Filter(programs []Program, query string) []Program {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Program
	for _, p := range programs {
		if q == "" ||
			strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.Description), q) ||
			strings.Contains(strings.ToLower(p.Category), q) {
			out = append(out, p)
		}
	}
	return out
}

// Result is what Search shows the user.
type Result struct {
	Programs []Program
	Local    bool // served from the seed catalog
}

// Search asks the remote service first. When it fails or finds nothing, the
// seed catalog is filtered locally; when that is empty too, the whole catalog
// is returned. A blank query returns the catalog without a remote call.
func Search(ctx context.Context, s Searcher, query string, maxResults int) Result {
	if strings.TrimSpace(query) == "" {
		return Result{Programs: Seed(), Local: true}
	}

	if s != nil {
		programs, err := s.SearchPrograms(ctx, query, maxResults)
		if err == nil && len(programs) > 0 {
			return Result{Programs: programs}
		}
		if err != nil {
			log.FallbackUsed("search", err)
		}
		telemetry.FallbackUsed(ctx, "search")
	}

	if filtered := Filter(seed.Programs, query); len(filtered) > 0 {
		return Result{Programs: clone(filtered), Local: true}
	}
	return Result{Programs: Seed(), Local: true}
}

// Categories returns the remote category list, or the seed list when the
// service fails or returns none.
func Categories(ctx context.Context, l CategoryLister) []string {
	if l != nil {
		cats, err := l.ListCategories(ctx)
		if err == nil && len(cats) > 0 {
			return cats
		}
		if err != nil {
			log.FallbackUsed("categories", err)
		}
		telemetry.FallbackUsed(ctx, "categories")
	}
	return SeedCategories()
}
