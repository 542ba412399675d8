package domain

import (
	"fmt"
	"time"
)

// Sanctions list identifiers.
const (
	ListOFAC             = "OFAC_SDN"
	ListLocal            = "LOCAL_SANCTIONS"
	ListCountrySanctions = "COUNTRY_SANCTIONS"
)

// SanctionedEntity is one record from a sanctions source.
type SanctionedEntity struct {
	Name            string `json:"name"`
	Country         string `json:"country"`
	DOB             string `json:"dob,omitempty"`
	SanctioningBody string `json:"sanctioningBody"`
	Program         string `json:"program,omitempty"`
	Remarks         string `json:"remarks,omitempty"`
}

// SanctionsMatchResult describes the outcome of a sanctions check.
type SanctionsMatchResult struct {
	IsSanctioned      bool    `json:"isSanctioned"`
	MatchedEntityName string  `json:"matchedEntityName,omitempty"`
	MatchedCountry    string  `json:"matchedCountry,omitempty"`
	MatchedList       string  `json:"matchedList,omitempty"`
	MatchReason       string  `json:"matchReason,omitempty"`
	ConfidenceScore   float64 `json:"confidenceScore"`
}

// NoSanctionsMatch is the negative result.
func NoSanctionsMatch() SanctionsMatchResult {
	return SanctionsMatchResult{}
}

// FormattedReason renders the match for alert reasons and audit lines.
func (r SanctionsMatchResult) FormattedReason() string {
	if !r.IsSanctioned {
		return "No sanctions match"
	}
	return fmt.Sprintf("Entity '%s' from '%s' matched in %s list: %s",
		r.MatchedEntityName, r.MatchedCountry, r.MatchedList, r.MatchReason)
}

// SanctionsStatus reports the state of a refreshed sanctions cache.
type SanctionsStatus struct {
	Source      string    `json:"source"`
	Count       int       `json:"count"`
	LastRefresh time.Time `json:"lastRefresh"`
	Refreshing  bool      `json:"refreshing"`
}
