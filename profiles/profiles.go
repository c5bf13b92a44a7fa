package profiles

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/gocarina/gocsv"

	"github.com/dargueta/fes"
	"github.com/dargueta/fes/coder"
)

////////////////////////////////////////////////////////////////////////////////
// Profiles

// Profile is one named bundle of pipeline settings. The bundled presets
// cover the common tradeoffs so callers don't have to learn the individual
// knobs before getting useful output.
type Profile struct {
	Name string `csv:"name"`
	Slug string `csv:"slug"`

	// Coder names the entropy backend, in the form coder.ParseKind accepts.
	Coder string `csv:"coder"`

	// MinTableRun is the minimum jump-table run length the scan accepts.
	// Longer minimums skip small tables and cost a little ratio; 0 keeps
	// the pipeline default.
	MinTableRun int `csv:"min_table_run"`

	StrictTables bool `csv:"strict_tables"`
	SkipVerify   bool `csv:"skip_verify"`

	Notes string `csv:"notes"`
}

// Options materializes the profile into pipeline options.
func (p *Profile) Options() (fes.Options, error) {
	kind, err := coder.ParseKind(p.Coder)
	if err != nil {
		return fes.Options{}, fmt.Errorf("profile %q: %w", p.Slug, err)
	}

	opts := fes.DefaultOptions()
	opts.Coder = kind
	opts.StrictTables = p.StrictTables
	opts.SkipVerify = p.SkipVerify
	if p.MinTableRun > 0 {
		opts.JumpTable.MinRun = p.MinTableRun
	}
	return opts, nil
}

////////////////////////////////////////////////////////////////////////////////

//go:embed profiles.csv
var profilesRawCSV string
var profileRegistry map[string]Profile

// GetPredefinedProfile looks a preset up by its slug.
func GetPredefinedProfile(slug string) (Profile, error) {
	profile, ok := profileRegistry[slug]
	if ok {
		return profile, nil
	}

	err := fmt.Errorf("no predefined profile exists with slug %q", slug)
	return Profile{}, err
}

// All returns every predefined profile, ordered by slug.
func All() []Profile {
	all := make([]Profile, 0, len(profileRegistry))
	for _, profile := range profileRegistry {
		all = append(all, profile)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Slug < all[j].Slug
	})
	return all
}

func init() {
	var rows []Profile
	if err := gocsv.UnmarshalString(profilesRawCSV, &rows); err != nil {
		panic(fmt.Errorf("failed to decode embedded profiles: %w", err))
	}

	profileRegistry = make(map[string]Profile)

	for i, row := range rows {
		_, exists := profileRegistry[row.Slug]
		if exists {
			message := fmt.Errorf(
				"duplicate definition for profile %q found on row %d",
				row.Slug,
				i+1)
			panic(message)
		}
		profileRegistry[row.Slug] = row
	}
}
