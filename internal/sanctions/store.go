package sanctions

import (
	"slices"
	"strings"
	"sync/atomic"

	"github.com/opensource-finance/heron/internal/domain"
)

// Confidence scores for local list hits.
const (
	LocalExactConfidence   = 0.9
	LocalPartialConfidence = 0.7
)

// DefaultHighRiskCountries is used when no high-risk country list is loaded.
var DefaultHighRiskCountries = []string{
	"Afghanistan", "Cuba", "Iran", "Myanmar", "North Korea", "Russia", "Syria",
}

// LocalList is the content of a locally curated sanctions source.
type LocalList struct {
	Entities            []domain.SanctionedEntity `json:"entities"`
	HighRiskCountries   []string                  `json:"highRiskCountries"`
	SanctionedCountries []string                  `json:"sanctionedCountries"`
}

type storeSnapshot struct {
	index               *Index
	highRisk            map[string]string
	sanctionedCountries map[string]string
}

// Store is the consolidated local sanctions list plus the high-risk and
// sanctioned country sets. Reads are lock-free; Load swaps a new snapshot.
type Store struct {
	snap atomic.Pointer[storeSnapshot]
}

// NewStore returns an empty store seeded with DefaultHighRiskCountries.
func NewStore() *Store {
	s := &Store{}
	s.Load(LocalList{})
	return s
}

// Load replaces the store contents. An empty high-risk list keeps the defaults.
func (s *Store) Load(list LocalList) {
	highRisk := list.HighRiskCountries
	if len(highRisk) == 0 {
		highRisk = DefaultHighRiskCountries
	}
	s.snap.Store(&storeSnapshot{
		index:               NewIndex(list.Entities),
		highRisk:            countrySet(highRisk),
		sanctionedCountries: countrySet(list.SanctionedCountries),
	})
}

func countrySet(countries []string) map[string]string {
	set := make(map[string]string, len(countries))
	for _, c := range countries {
		if n := NormalizeCountry(c); n != "" {
			set[n] = strings.TrimSpace(c)
		}
	}
	return set
}

// Count returns the number of local entities.
func (s *Store) Count() int {
	return s.snap.Load().index.Len()
}

// MatchName checks the local list by exact then partial name. An exact hit is
// skipped when both sides carry a date of birth and they differ.
func (s *Store) MatchName(name, dob string) (domain.SanctionsMatchResult, bool) {
	idx := s.snap.Load().index
	if Normalize(name) == "" {
		return domain.NoSanctionsMatch(), false
	}

	for _, e := range idx.ExactAll(name) {
		if dob != "" && e.DOB != "" && !strings.EqualFold(strings.TrimSpace(dob), strings.TrimSpace(e.DOB)) {
			continue
		}
		return localResult(e, "Exact name match in local sanctions list", LocalExactConfidence), true
	}

	if m, ok := idx.Partial(name); ok {
		return localResult(m.Entity, "Partial name match in local sanctions list", LocalPartialConfidence), true
	}

	return domain.NoSanctionsMatch(), false
}

func localResult(e domain.SanctionedEntity, reason string, confidence float64) domain.SanctionsMatchResult {
	return domain.SanctionsMatchResult{
		IsSanctioned:      true,
		MatchedEntityName: e.Name,
		MatchedCountry:    e.Country,
		MatchedList:       domain.ListLocal,
		MatchReason:       reason,
		ConfidenceScore:   confidence,
	}
}

// IsNameSanctioned reports an exact local name hit.
func (s *Store) IsNameSanctioned(name string) bool {
	_, ok := s.snap.Load().index.Exact(name)
	return ok
}

// IsNamePartiallySanctioned reports a substring local name hit.
func (s *Store) IsNamePartiallySanctioned(name string) bool {
	_, ok := s.snap.Load().index.Partial(name)
	return ok
}

// IsEntitySanctioned matches name, country, DOB and sanctioning body exactly.
// An empty dob or body acts as a wildcard, as does a body of "Any".
func (s *Store) IsEntitySanctioned(name, country, dob, body string) bool {
	for _, e := range s.snap.Load().index.ExactAll(name) {
		if NormalizeCountry(e.Country) != NormalizeCountry(country) {
			continue
		}
		if dob != "" && e.DOB != "" && e.DOB != dob {
			continue
		}
		if body != "" && !strings.EqualFold(body, "any") && !strings.EqualFold(body, e.SanctioningBody) {
			continue
		}
		return true
	}
	return false
}

// CountrySanction checks the comprehensively sanctioned country set.
func (s *Store) CountrySanction(country string) (domain.SanctionsMatchResult, bool) {
	display, ok := s.snap.Load().sanctionedCountries[NormalizeCountry(country)]
	if !ok {
		return domain.NoSanctionsMatch(), false
	}
	return domain.SanctionsMatchResult{
		IsSanctioned:      true,
		MatchedEntityName: display,
		MatchedCountry:    display,
		MatchedList:       domain.ListCountrySanctions,
		MatchReason:       "Country is subject to comprehensive sanctions",
		ConfidenceScore:   1.0,
	}, true
}

// IsHighRiskCountry checks the high-risk country set, case-insensitively.
func (s *Store) IsHighRiskCountry(country string) bool {
	_, ok := s.snap.Load().highRisk[NormalizeCountry(country)]
	return ok
}

// HighRiskCountries returns the high-risk countries, sorted.
func (s *Store) HighRiskCountries() []string {
	set := s.snap.Load().highRisk
	out := make([]string, 0, len(set))
	for _, display := range set {
		out = append(out, display)
	}
	slices.Sort(out)
	return out
}

// Search filters local entities by name substring and country.
func (s *Store) Search(name, country string) []domain.SanctionedEntity {
	return s.snap.Load().index.Search(name, country)
}
