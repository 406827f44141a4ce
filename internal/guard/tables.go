package guard

import (
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Brand is a corporate family and the branded terms only it may use
type Brand struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Family   []string `yaml:"family"`
}

// owns reports whether the vehicle belongs to the brand's family. Multi-word
// makes are matched against the key as well as the extracted make.
func (b Brand) owns(c Content) bool {
	return lo.SomeBy(b.Family, func(member string) bool {
		if member == c.Make {
			return true
		}
		slug := strings.ReplaceAll(member, " ", "_")
		return strings.Contains(c.VehicleKey, "_"+slug+"_")
	})
}

// Topic is a content-id topic and the words its content must mention
type Topic struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Tables are the data-driven parts of the built-in rules
type Tables struct {
	Brands []Brand `yaml:"brands"`
	Topics []Topic `yaml:"topics"`
}

// DefaultTables returns the built-in brand and topic tables
func DefaultTables() Tables {
	return Tables{
		Brands: []Brand{
			{Name: "ford", Keywords: []string{"motorcraft", "fomoco"}, Family: []string{"ford", "lincoln", "mercury"}},
			{Name: "gm", Keywords: []string{"ac delco", "acdelco", "dexos"}, Family: []string{"chevrolet", "chevy", "gm", "buick", "cadillac", "gmc", "pontiac", "saturn", "oldsmobile", "hummer"}},
			{Name: "toyota", Keywords: []string{"genuine toyota"}, Family: []string{"toyota", "lexus", "scion"}},
			{Name: "honda", Keywords: []string{"genuine honda"}, Family: []string{"honda", "acura"}},
			{Name: "stellantis", Keywords: []string{"mopar"}, Family: []string{"dodge", "ram", "chrysler", "jeep", "fiat", "alfa romeo", "alfa_romeo"}},
		},
		Topics: []Topic{
			{Name: "oxygen_sensor", Keywords: []string{"oxygen", "o2", "sensor"}},
			{Name: "drum_brake", Keywords: []string{"drum", "shoe", "wheel cylinder", "backing plate"}},
			{Name: "disc_brake", Keywords: []string{"caliper", "rotor", "disc", "pad"}},
			{Name: "air_filter", Keywords: []string{"air filter", "intake", "filter element"}},
			{Name: "spark_plug", Keywords: []string{"spark plug", "ignition", "electrode"}},
			{Name: "coolant", Keywords: []string{"coolant", "antifreeze", "radiator"}},
			{Name: "transmission", Keywords: []string{"transmission", "gearbox", "shift"}},
		},
	}
}

// Merge extends t with other. Entries with a known name gain the new terms;
// unknown entries are appended in the order given.
func (t Tables) Merge(other Tables) Tables {
	out := Tables{
		Brands: append([]Brand(nil), t.Brands...),
		Topics: append([]Topic(nil), t.Topics...),
	}
	for _, b := range other.Brands {
		b = normalizeBrand(b)
		_, idx, ok := lo.FindIndexOf(out.Brands, func(e Brand) bool { return e.Name == b.Name })
		if !ok {
			out.Brands = append(out.Brands, b)
			continue
		}
		cur := out.Brands[idx]
		cur.Keywords = lo.Uniq(append(append([]string(nil), cur.Keywords...), b.Keywords...))
		cur.Family = lo.Uniq(append(append([]string(nil), cur.Family...), b.Family...))
		out.Brands[idx] = cur
	}
	for _, tp := range other.Topics {
		tp = normalizeTopic(tp)
		_, idx, ok := lo.FindIndexOf(out.Topics, func(e Topic) bool { return e.Name == tp.Name })
		if !ok {
			out.Topics = append(out.Topics, tp)
			continue
		}
		cur := out.Topics[idx]
		cur.Keywords = lo.Uniq(append(append([]string(nil), cur.Keywords...), tp.Keywords...))
		out.Topics[idx] = cur
	}
	return out
}

// ParseOverrides decodes a YAML overrides document
func ParseOverrides(raw []byte) (Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Tables{}, fmt.Errorf("failed to parse guard overrides: %w", err)
	}
	for _, b := range t.Brands {
		if strings.TrimSpace(b.Name) == "" {
			return Tables{}, fmt.Errorf("guard overrides: brand entry without name")
		}
	}
	for _, tp := range t.Topics {
		if strings.TrimSpace(tp.Name) == "" {
			return Tables{}, fmt.Errorf("guard overrides: topic entry without name")
		}
	}
	return t, nil
}

// LoadOverrides reads a YAML overrides file and merges it into the defaults
func LoadOverrides(path string) (Tables, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("failed to read guard overrides: %w", err)
	}
	overrides, err := ParseOverrides(raw)
	if err != nil {
		return Tables{}, err
	}
	return DefaultTables().Merge(overrides), nil
}

func normalizeBrand(b Brand) Brand {
	return Brand{
		Name:     strings.ToLower(strings.TrimSpace(b.Name)),
		Keywords: lowerAll(b.Keywords),
		Family:   lowerAll(b.Family),
	}
}

func normalizeTopic(t Topic) Topic {
	return Topic{
		Name:     strings.ToLower(strings.TrimSpace(t.Name)),
		Keywords: lowerAll(t.Keywords),
	}
}

func lowerAll(in []string) []string {
	return lo.Map(in, func(s string, _ int) string { return strings.ToLower(strings.TrimSpace(s)) })
}
