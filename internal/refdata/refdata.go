// Package refdata loads the two small reference extracts — the
// physician→facility affiliation map and the facility directory — and caches
// immutable snapshots keyed by source path and modification time.
package refdata

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"hospitalstats/internal/columns"
	"hospitalstats/internal/errdefs"
)

// AffiliationMap maps a physician NPI to the facilities it is affiliated
// with. Many-to-many: one physician may carry zero or several facilities.
// Immutable after load; facility lists are deduplicated and sorted so that
// attribution fan-out order is deterministic.
type AffiliationMap struct {
	byNPI map[string][]string
	pairs int
}

// NewAffiliationMap builds a snapshot from in-memory pairings. Facility
// lists are deduplicated and sorted exactly as the file loader does.
func NewAffiliationMap(pairs map[string][]string) *AffiliationMap {
	m := &AffiliationMap{byNPI: make(map[string][]string, len(pairs))}
	for npi, facs := range pairs {
		seen := make(map[string]bool, len(facs))
		for _, fac := range facs {
			if fac == "" || seen[fac] {
				continue
			}
			seen[fac] = true
			m.byNPI[npi] = append(m.byNPI[npi], fac)
			m.pairs++
		}
		sort.Strings(m.byNPI[npi])
	}
	return m
}

// Facilities returns the facility IDs affiliated with npi, nil if none.
func (m *AffiliationMap) Facilities(npi string) []string {
	if m == nil {
		return nil
	}
	return m.byNPI[npi]
}

// Physicians returns the number of distinct NPIs with at least one affiliation.
func (m *AffiliationMap) Physicians() int {
	if m == nil {
		return 0
	}
	return len(m.byNPI)
}

// Each visits every physician and its facility list. Iteration order is
// unspecified; callers needing determinism must sort what they collect.
func (m *AffiliationMap) Each(fn func(npi string, facilities []string)) {
	if m == nil {
		return
	}
	for npi, facs := range m.byNPI {
		fn(npi, facs)
	}
}

// Pairs returns the number of distinct (npi, facility) pairs loaded.
func (m *AffiliationMap) Pairs() int {
	if m == nil {
		return 0
	}
	return m.pairs
}

// Facility is one facility directory entry.
type Facility struct {
	Name  string
	City  string
	State string
}

// FacilityDirectory maps facility ID (CCN) to its metadata.
// Immutable after load.
type FacilityDirectory struct {
	byID       map[string]Facility
	duplicates int
}

// NewFacilityDirectory builds a snapshot from in-memory entries.
func NewFacilityDirectory(entries map[string]Facility) *FacilityDirectory {
	d := &FacilityDirectory{byID: make(map[string]Facility, len(entries))}
	for id, f := range entries {
		d.byID[id] = f
	}
	return d
}

// Lookup returns the metadata for a facility ID.
func (d *FacilityDirectory) Lookup(id string) (Facility, bool) {
	if d == nil {
		return Facility{}, false
	}
	f, ok := d.byID[id]
	return f, ok
}

// Len returns the number of distinct facilities.
func (d *FacilityDirectory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.byID)
}

// Duplicates returns how many directory rows repeated an already-seen
// facility ID (first row wins).
func (d *FacilityDirectory) Duplicates() int {
	if d == nil {
		return 0
	}
	return d.duplicates
}

// openCSV opens a reference extract the same way the big scans do: buffered,
// BOM-skipped, tolerant of loose quoting and ragged rows.
func openCSV(path string) (*os.File, *csv.Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, eris.Wrapf(errdefs.ErrMissingSourceFile, "refdata: open %s", path)
		}
		return nil, nil, eris.Wrapf(err, "refdata: open %s", path)
	}

	buf := bufio.NewReaderSize(file, 256*1024)
	if bom, err := buf.Peek(3); err == nil && len(bom) >= 3 &&
		bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		buf.Discard(3)
	}

	reader := csv.NewReader(buf)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	return file, reader, nil
}

func field(row []string, idx int) string {
	if idx >= 0 && idx < len(row) {
		return strings.TrimSpace(row[idx])
	}
	return ""
}

// LoadAffiliations reads the affiliation extract into an AffiliationMap.
// Rows with a blank NPI or facility ID are skipped and counted; duplicate
// pairs collapse to one.
func LoadAffiliations(path string) (*AffiliationMap, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "refdata"), zap.String("path", path))

	file, reader, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "refdata: read affiliation header")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	cols, err := columns.ResolveAffiliation(header)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]map[string]bool)
	m := &AffiliationMap{byNPI: make(map[string][]string)}
	skipped := 0

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// csv-level row error: skip the row, keep the load alive
			skipped++
			continue
		}
		npi := field(row, cols.NPI)
		fac := field(row, cols.FacilityID)
		if npi == "" || fac == "" {
			skipped++
			continue
		}
		facs, ok := seen[npi]
		if !ok {
			facs = make(map[string]bool, 2)
			seen[npi] = facs
		}
		if facs[fac] {
			continue
		}
		facs[fac] = true
		m.byNPI[npi] = append(m.byNPI[npi], fac)
		m.pairs++
	}

	for _, facs := range m.byNPI {
		sort.Strings(facs)
	}

	log.Info("loaded affiliation map",
		zap.Int("physicians", len(m.byNPI)),
		zap.Int("pairs", m.pairs),
		zap.Int("skipped", skipped),
		zap.Duration("elapsed", time.Since(start)))
	return m, nil
}

// LoadDirectory reads the facility directory extract. Facility ID is the
// unique key; if the source repeats an ID the first row wins and the
// duplicate is counted.
func LoadDirectory(path string) (*FacilityDirectory, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "refdata"), zap.String("path", path))

	file, reader, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "refdata: read directory header")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	cols, err := columns.ResolveDirectory(header)
	if err != nil {
		return nil, err
	}

	d := &FacilityDirectory{byID: make(map[string]Facility)}
	skipped := 0

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		id := field(row, cols.FacilityID)
		name := field(row, cols.Name)
		if id == "" || name == "" {
			skipped++
			continue
		}
		if _, ok := d.byID[id]; ok {
			d.duplicates++
			continue
		}
		d.byID[id] = Facility{
			Name:  name,
			City:  field(row, cols.City),
			State: strings.ToUpper(field(row, cols.State)),
		}
	}

	log.Info("loaded facility directory",
		zap.Int("facilities", len(d.byID)),
		zap.Int("duplicates", d.duplicates),
		zap.Int("skipped", skipped),
		zap.Duration("elapsed", time.Since(start)))
	return d, nil
}
