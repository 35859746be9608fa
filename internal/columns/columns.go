// Package columns resolves the heterogeneous headers of CMS-style extracts
// into fixed logical field positions. Resolution happens once per file; the
// rest of the pipeline only sees logical column indexes, never raw header
// strings.
package columns

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// Spec describes how to find one logical column in a raw header row.
// Candidates are tried in order: exact names first (case-insensitive),
// then substrings, then regular expressions.
type Spec struct {
	Exact    []string
	Contains []string
	Patterns []string
}

// Resolve returns the index of the first header matching the spec, or -1.
func (s Spec) Resolve(header []string) int {
	lower := make([]string, len(header))
	for i, h := range header {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}
	for _, want := range s.Exact {
		want = strings.ToLower(want)
		for i, h := range lower {
			if h == want {
				return i
			}
		}
	}
	for _, frag := range s.Contains {
		frag = strings.ToLower(frag)
		for i, h := range lower {
			if strings.Contains(h, frag) {
				return i
			}
		}
	}
	for _, pat := range s.Patterns {
		re := regexp.MustCompile("(?i)" + pat)
		for i, h := range header {
			if re.MatchString(h) {
				return i
			}
		}
	}
	return -1
}

// Billing holds resolved column positions for the billing extract.
// TotalPayment and AvgPayment may be -1; the scanner falls back from one to
// the other (avg × services) and to zero when both are absent.
type Billing struct {
	NPI          int
	Code         int
	State        int
	Services     int
	TotalPayment int
	AvgPayment   int
}

var (
	npiSpec = Spec{
		Exact:    []string{"Rndrng_NPI", "Rfrg_NPI", "NPI", "npi"},
		Contains: []string{"npi"},
		Patterns: []string{`\bnpi\b`},
	}
	codeSpec = Spec{
		Exact:    []string{"HCPCS_Cd", "HCPCS_CD", "hcpcs_cd", "hcpcs"},
		Contains: []string{"hcpcs"},
		Patterns: []string{`\bhcpcs\b`},
	}
	stateSpec = Spec{
		Exact:    []string{"Rndrng_Prvdr_State_Abrvtn", "Rfrg_Prvdr_State_Abrvtn", "State"},
		Contains: []string{"state", "abrvtn"},
		Patterns: []string{`state.*abr`, `\bstate\b`},
	}
	servicesSpec = Spec{
		Exact:    []string{"Tot_Srvcs", "Tot_Suplr_Srvcs", "Tot_Supplier_Srvcs"},
		Contains: []string{"tot_srv", "tot_srvcs", "srvcs"},
		Patterns: []string{`\btot_.*srv`},
	}
	totalPaymentSpec = Spec{
		Exact:    []string{"Tot_Mdcr_Pymt_Amt", "medicare_payment_amt", "Tot_Payment_Amt"},
		Contains: []string{"tot_mdcr_pymt", "tot_pymt", "tot_payment"},
		Patterns: []string{`tot.*(pymt|payment).*amt`},
	}
	avgPaymentSpec = Spec{
		Exact:    []string{"Avg_Mdcr_Pymt_Amt", "Avg_Suplr_Mdcr_Pymt_Amt"},
		Contains: []string{"avg_mdcr_pymt"},
		Patterns: []string{`avg.*(pymt|payment).*amt`},
	}

	affFacilitySpec = Spec{
		Exact: []string{
			"Facility Affiliations Certification Number",
			"Facility Type Certification Number",
		},
		Contains: []string{"certification"},
		Patterns: []string{`certification.*number`},
	}

	facilityIDSpec = Spec{
		Exact:    []string{"Facility ID", "CCN"},
		Contains: []string{"facility id", "ccn"},
	}
	facilityNameSpec = Spec{
		Exact:    []string{"Facility Name", "Hospital Name"},
		Contains: []string{"facility name", "hospital name"},
	}
	citySpec = Spec{
		Exact:    []string{"City/Town", "City"},
		Contains: []string{"city", "town"},
	}
	facilityStateSpec = Spec{
		Exact:    []string{"State"},
		Contains: []string{"state"},
	}
)

// ResolveBilling maps a billing extract header to logical positions.
// NPI, code, state, and services are required; payments are optional.
func ResolveBilling(header []string) (Billing, error) {
	b := Billing{
		NPI:          npiSpec.Resolve(header),
		Code:         codeSpec.Resolve(header),
		State:        stateSpec.Resolve(header),
		Services:     servicesSpec.Resolve(header),
		TotalPayment: totalPaymentSpec.Resolve(header),
		AvgPayment:   avgPaymentSpec.Resolve(header),
	}
	// A "Tot_..." match that is really an average column is not a total.
	if b.TotalPayment >= 0 &&
		strings.HasPrefix(strings.ToLower(header[b.TotalPayment]), "avg") {
		b.TotalPayment = -1
	}
	switch {
	case b.NPI < 0:
		return b, eris.New("columns: no NPI column in billing header")
	case b.Code < 0:
		return b, eris.New("columns: no procedure code column in billing header")
	case b.State < 0:
		return b, eris.New("columns: no state column in billing header")
	case b.Services < 0:
		return b, eris.New("columns: no service count column in billing header")
	}
	return b, nil
}

// Affiliation holds resolved column positions for the affiliation extract.
type Affiliation struct {
	NPI        int
	FacilityID int
}

func ResolveAffiliation(header []string) (Affiliation, error) {
	a := Affiliation{
		NPI:        npiSpec.Resolve(header),
		FacilityID: affFacilitySpec.Resolve(header),
	}
	if a.NPI < 0 {
		return a, eris.New("columns: no NPI column in affiliation header")
	}
	if a.FacilityID < 0 {
		return a, eris.New("columns: no facility certification number column in affiliation header")
	}
	return a, nil
}

// Directory holds resolved column positions for the facility directory
// extract. City and State may be -1.
type Directory struct {
	FacilityID int
	Name       int
	City       int
	State      int
}

func ResolveDirectory(header []string) (Directory, error) {
	d := Directory{
		FacilityID: facilityIDSpec.Resolve(header),
		Name:       facilityNameSpec.Resolve(header),
		City:       citySpec.Resolve(header),
		State:      facilityStateSpec.Resolve(header),
	}
	if d.FacilityID < 0 {
		return d, eris.New("columns: no facility ID column in directory header")
	}
	if d.Name < 0 {
		return d, eris.New("columns: no facility name column in directory header")
	}
	return d, nil
}

var stateRe = regexp.MustCompile(`^[A-Z]{2}$`)

// NormalizeCodes trims, uppercases, and deduplicates procedure codes,
// preserving first-seen order. Empty entries are dropped.
func NormalizeCodes(codes []string) []string {
	var out []string
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// NormalizeStates uppercases and validates two-letter state codes,
// dropping anything else. Duplicates are removed, order preserved.
func NormalizeStates(states []string) []string {
	var out []string
	seen := make(map[string]bool, len(states))
	for _, s := range states {
		s = strings.ToUpper(strings.TrimSpace(s))
		if !stateRe.MatchString(s) || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
