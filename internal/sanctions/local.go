package sanctions

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
)

// LoadLocalList reads a locally curated list. A .json file holds a LocalList
// document; a .csv file holds entity rows with a header naming at least "name".
func LoadLocalList(path string) (LocalList, error) {
	f, err := os.Open(path)
	if err != nil {
		return LocalList{}, fmt.Errorf("failed to open sanctions list: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var list LocalList
		if err := json.NewDecoder(f).Decode(&list); err != nil {
			return LocalList{}, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return list, nil
	case ".csv":
		entities, err := ParseEntityCSV(f)
		if err != nil {
			return LocalList{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return LocalList{Entities: entities}, nil
	default:
		return LocalList{}, fmt.Errorf("unsupported sanctions list format: %s", path)
	}
}

// ParseEntityCSV reads entity rows. Recognized columns are name, country, dob
// and sanctioning_body; others are ignored.
func ParseEntityCSV(r io.Reader) ([]domain.SanctionedEntity, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["name"]; !ok {
		return nil, errors.New("missing name column")
	}

	field := func(rec []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []domain.SanctionedEntity
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		name := field(rec, "name")
		if name == "" {
			continue
		}
		out = append(out, domain.SanctionedEntity{
			Name:            name,
			Country:         field(rec, "country"),
			DOB:             field(rec, "dob"),
			SanctioningBody: field(rec, "sanctioning_body"),
		})
	}
	return out, nil
}

// LoadCountryFile reads one country per line. Blank lines and lines starting
// with # are skipped.
func LoadCountryFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open country list: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
