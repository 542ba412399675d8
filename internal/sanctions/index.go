package sanctions

import (
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
)

// DefaultFuzzyThreshold is the minimum similarity for a fuzzy match.
const DefaultFuzzyThreshold = 0.8

// MatchKind says which step of the matching algorithm produced a hit.
type MatchKind string

const (
	MatchExact          MatchKind = "exact"
	MatchPartial        MatchKind = "partial"
	MatchFuzzy          MatchKind = "fuzzy"
	MatchCountryPartial MatchKind = "country_partial"
)

// Match is a screening hit.
type Match struct {
	Entity     domain.SanctionedEntity
	Kind       MatchKind
	Similarity float64
}

type indexedName struct {
	norm   string
	tokens []string
	entity int
}

// Index is an immutable lookup structure over a set of entities.
// Build a new Index and swap it in; never mutate one in place.
type Index struct {
	entities  []domain.SanctionedEntity
	names     []indexedName
	exact     map[string][]int
	byCountry map[string][]int
}

// NewIndex builds an index. Entities without a usable name are skipped.
func NewIndex(entities []domain.SanctionedEntity) *Index {
	idx := &Index{
		entities:  make([]domain.SanctionedEntity, 0, len(entities)),
		exact:     make(map[string][]int, len(entities)*2),
		byCountry: make(map[string][]int),
	}

	for _, e := range entities {
		variants := nameVariants(e.Name)
		if len(variants) == 0 {
			continue
		}
		ei := len(idx.entities)
		idx.entities = append(idx.entities, e)

		for _, v := range variants {
			idx.exact[v] = append(idx.exact[v], ei)
		}

		ni := len(idx.names)
		idx.names = append(idx.names, indexedName{
			norm:   variants[0],
			tokens: strings.Split(variants[0], " "),
			entity: ei,
		})

		if c := NormalizeCountry(e.Country); c != "" {
			idx.byCountry[c] = append(idx.byCountry[c], ni)
		}
	}

	return idx
}

// Len returns the number of indexed entities.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entities)
}

// Entities returns a copy of the indexed entities.
func (idx *Index) Entities() []domain.SanctionedEntity {
	if idx == nil {
		return nil
	}
	out := make([]domain.SanctionedEntity, len(idx.entities))
	copy(out, idx.entities)
	return out
}

// Lookup runs the full matching algorithm. The first step that hits wins:
// exact, substring containment, fuzzy similarity, then token-set match
// among entities of the given country.
func (idx *Index) Lookup(name, country string, threshold float64) (Match, bool) {
	q := Normalize(name)
	if q == "" || idx.Len() == 0 {
		return Match{}, false
	}

	if m, ok := idx.Exact(q); ok {
		return m, true
	}
	if m, ok := idx.Partial(q); ok {
		return m, true
	}
	if m, ok := idx.Fuzzy(q, threshold); ok {
		return m, true
	}
	if country != "" {
		return idx.CountryPartial(q, country)
	}
	return Match{}, false
}

// Exact matches the normalized name in either token order.
func (idx *Index) Exact(name string) (Match, bool) {
	all := idx.ExactAll(name)
	if len(all) == 0 {
		return Match{}, false
	}
	return Match{Entity: all[0], Kind: MatchExact, Similarity: 1.0}, true
}

// ExactAll returns every entity whose name matches exactly.
func (idx *Index) ExactAll(name string) []domain.SanctionedEntity {
	var out []domain.SanctionedEntity
	seen := make(map[int]bool)
	for _, v := range nameVariants(name) {
		for _, ei := range idx.exact[v] {
			if !seen[ei] {
				seen[ei] = true
				out = append(out, idx.entities[ei])
			}
		}
	}
	return out
}

// Partial matches when one normalized name contains the other.
func (idx *Index) Partial(name string) (Match, bool) {
	q := Normalize(name)
	if q == "" {
		return Match{}, false
	}
	for _, n := range idx.names {
		if strings.Contains(q, n.norm) || strings.Contains(n.norm, q) {
			return Match{Entity: idx.entities[n.entity], Kind: MatchPartial, Similarity: Similarity(q, n.norm)}, true
		}
	}
	return Match{}, false
}

// Fuzzy returns the most similar entity at or above threshold.
// Every name is compared; cost is O(n*m) per name.
func (idx *Index) Fuzzy(name string, threshold float64) (Match, bool) {
	q := Normalize(name)
	if q == "" {
		return Match{}, false
	}
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}

	best := -1
	bestScore := 0.0
	for i, n := range idx.names {
		if s := Similarity(q, n.norm); s >= threshold && s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return Match{}, false
	}
	return Match{Entity: idx.entities[idx.names[best].entity], Kind: MatchFuzzy, Similarity: bestScore}, true
}

// CountryPartial matches on token sets, ignoring order and gaps, but only
// among entities registered for the given country.
func (idx *Index) CountryPartial(name, country string) (Match, bool) {
	q := Normalize(name)
	candidates := idx.byCountry[NormalizeCountry(country)]
	if q == "" || len(candidates) == 0 {
		return Match{}, false
	}

	qTokens := strings.Split(q, " ")
	for _, ni := range candidates {
		n := idx.names[ni]
		if tokenSubset(qTokens, n.tokens) || tokenSubset(n.tokens, qTokens) {
			return Match{Entity: idx.entities[n.entity], Kind: MatchCountryPartial, Similarity: Similarity(q, n.norm)}, true
		}
	}
	return Match{}, false
}

// Search returns entities whose name contains name and whose country equals
// country. Empty filters match everything.
func (idx *Index) Search(name, country string) []domain.SanctionedEntity {
	if idx == nil {
		return nil
	}
	q := Normalize(name)
	c := NormalizeCountry(country)

	var out []domain.SanctionedEntity
	for _, n := range idx.names {
		e := idx.entities[n.entity]
		if q != "" && !strings.Contains(n.norm, q) {
			continue
		}
		if c != "" && NormalizeCountry(e.Country) != c {
			continue
		}
		out = append(out, e)
	}
	return out
}
