package memory

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/dbsmedya/prefixcrawl/internal/types"
)

var (
	syllables = []string{
		"AB", "AL", "AN", "AR", "BA", "BE", "BO", "CA", "CO", "DA", "DE", "DI",
		"EL", "EN", "ER", "FA", "GA", "GO", "HA", "HE", "IN", "JO", "KA", "KE",
		"LA", "LE", "LI", "MA", "ME", "MO", "NA", "NE", "NO", "OR", "PA", "PE",
		"QUI", "RA", "RE", "RO", "SA", "SE", "SO", "TA", "TE", "TO", "UL", "VA",
		"VE", "WA", "WI", "XA", "YA", "YO", "ZA", "ZE",
	}
	givenNames = []string{
		"AARON", "ALICE", "BRIAN", "CAROL", "DAVID", "DIANA", "EDWARD", "ELENA",
		"FRANK", "GRACE", "HENRY", "IRENE", "JAMES", "JULIA", "KEVIN", "LAURA",
		"MARK", "NORA", "OSCAR", "PAULA", "QUINN", "RUTH", "SAMUEL", "TERESA",
		"VICTOR", "WENDY", "XAVIER", "YVONNE", "ZACHARY",
	}
	statuses = []string{"Active", "Active", "Active", "Inactive", "Expired", "Suspended"}
)

type profession struct {
	licenseType string
	name        string
}

var professions = []profession{
	{"MD", "Physician and Surgeon"},
	{"MD", "Physician and Surgeon"},
	{"MD", "Physician and Surgeon"},
	{"DO", "Osteopathic Physician and Surgeon"},
	{"RN", "Registered Nurse"},
}

// Generate returns n deterministic synthetic licensee records for seed.
// Full names contain only the letters A to Z.
func Generate(n int, seed uint64) []types.Record {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	base := time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

	records := make([]types.Record, 0, n)
	for i := 0; i < n; i++ {
		var surname strings.Builder
		for s := 0; s < 2+rng.IntN(2); s++ {
			surname.WriteString(syllables[rng.IntN(len(syllables))])
		}
		given := givenNames[rng.IntN(len(givenNames))]
		prof := professions[rng.IntN(len(professions))]
		issued := base.AddDate(0, 0, rng.IntN(40*365))
		expired := issued.AddDate(2+rng.IntN(20), 0, 0)

		records = append(records, types.NewRecord(map[string]string{
			types.FieldFullName:      surname.String() + given,
			types.FieldLicenseType:   prof.licenseType,
			types.FieldLicenseNumber: fmt.Sprintf("%s%07d", prof.licenseType, i+1),
			types.FieldStatus:        statuses[rng.IntN(len(statuses))],
			types.FieldProfessional:  prof.name,
			types.FieldIssued:        issued.Format("01/02/2006"),
			types.FieldExpired:       expired.Format("01/02/2006"),
		}))
	}
	return records
}
