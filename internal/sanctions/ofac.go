package sanctions

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// OFACFeed fetches the OFAC SDN list in XML form.
type OFACFeed struct {
	url    string
	client *http.Client
}

// NewOFACFeed creates a feed for the given URL. A nil client uses a default
// client; request deadlines come from the caller's context.
func NewOFACFeed(url string, client *http.Client) *OFACFeed {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &OFACFeed{url: url, client: client}
}

// Name identifies the source.
func (f *OFACFeed) Name() string {
	return domain.ListOFAC
}

// Fetch downloads and parses the full SDN list.
func (f *OFACFeed) Fetch(ctx context.Context) ([]domain.SanctionedEntity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, &domain.ExternalSourceError{Source: f.Name(), Err: err}
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.ExternalSourceError{Source: f.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.ExternalSourceError{
			Source: f.Name(),
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	entities, err := ParseSDN(resp.Body)
	if err != nil {
		return nil, &domain.ExternalSourceError{Source: f.Name(), Err: err}
	}
	return entities, nil
}

type sdnEntry struct {
	FirstName string   `xml:"firstName"`
	LastName  string   `xml:"lastName"`
	SDNType   string   `xml:"sdnType"`
	Remarks   string   `xml:"remarks"`
	Programs  []string `xml:"programList>program"`
	IDs       []struct {
		Country string `xml:"idCountry"`
	} `xml:"idList>id"`
	Addresses []struct {
		Country string `xml:"country"`
	} `xml:"addressList>address"`
	DOBs []struct {
		DOB string `xml:"dateOfBirth"`
	} `xml:"dateOfBirthList>dateOfBirthItem"`
}

// ParseSDN stream-decodes an <sdnList> document. Entries without a name are
// skipped. A missing country becomes "Unknown".
func ParseSDN(r io.Reader) ([]domain.SanctionedEntity, error) {
	dec := xml.NewDecoder(r)

	var out []domain.SanctionedEntity
	sawRoot := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse SDN XML: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "sdnList":
			sawRoot = true
		case "sdnEntry":
			var e sdnEntry
			if err := dec.DecodeElement(&e, &start); err != nil {
				return nil, fmt.Errorf("failed to decode sdnEntry: %w", err)
			}
			if entity, ok := e.toEntity(); ok {
				out = append(out, entity)
			}
		}
	}

	if !sawRoot {
		return nil, fmt.Errorf("failed to parse SDN XML: no sdnList element")
	}
	return out, nil
}

func (e sdnEntry) toEntity() (domain.SanctionedEntity, bool) {
	name := strings.TrimSpace(strings.TrimSpace(e.FirstName) + " " + strings.TrimSpace(e.LastName))
	if name == "" {
		return domain.SanctionedEntity{}, false
	}

	country := ""
	for _, id := range e.IDs {
		if c := strings.TrimSpace(id.Country); c != "" {
			country = c
			break
		}
	}
	if country == "" {
		for _, a := range e.Addresses {
			if c := strings.TrimSpace(a.Country); c != "" {
				country = c
				break
			}
		}
	}
	if country == "" {
		country = "Unknown"
	}

	var dob string
	if len(e.DOBs) > 0 {
		dob = strings.TrimSpace(e.DOBs[0].DOB)
	}

	return domain.SanctionedEntity{
		Name:            name,
		Country:         country,
		DOB:             dob,
		SanctioningBody: "OFAC",
		Program:         strings.Join(e.Programs, ","),
		Remarks:         strings.TrimSpace(e.Remarks),
	}, true
}
