package guard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aveoKey = "2007_chevrolet_aveo_1.6l_i4"

func longText(words ...string) string {
	base := "Remove the fasteners in sequence, support the assembly, and inspect the mounting surfaces for wear before reinstalling every component carefully. "
	return base + strings.Join(words, " ")
}

func TestValidateStubExemption(t *testing.T) {
	g := Default()

	v := g.Validate(Input{
		VehicleKey: aveoKey,
		ContentID:  "procedure:oxygen_sensor",
		ChunkType:  "procedure",
		Data:       map[string]any{"message": "Stub content, pending verification"},
	})

	assert.True(t, v.Passed)
	assert.Equal(t, "stub_exemption", v.Rule)
}

func TestValidateTypeExemption(t *testing.T) {
	g := Default()

	tests := []struct {
		name      string
		contentID string
		chunkType string
	}{
		{"torque type", "lug_nuts", "torque_spec"},
		{"labor time", "water_pump", "labor_time"},
		{"capacity content", "engine_oil_capacity", "procedure"},
		{"diagram content", "starter_diagram", "procedure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := g.Validate(Input{
				VehicleKey: aveoKey,
				ContentID:  tt.contentID,
				ChunkType:  tt.chunkType,
				Data:       map[string]any{"value": "Motorcraft 5W-20"},
			})
			assert.True(t, v.Passed)
			assert.Equal(t, "type_exemption", v.Rule)
		})
	}
}

func TestValidateMinLength(t *testing.T) {
	g := Default()

	v := g.Validate(Input{
		VehicleKey: aveoKey,
		ContentID:  "procedure:wiper_blade",
		ChunkType:  "procedure",
		Data:       map[string]any{"steps": "pull blade"},
	})

	require.False(t, v.Passed)
	assert.Equal(t, "min_length", v.Rule)
	assert.Contains(t, v.Reason, "Content too short (")
	assert.Contains(t, v.Reason, "minimum 120) - likely incomplete/stub")
}

func TestValidateCrossBrand(t *testing.T) {
	g := Default()

	v := g.Validate(Input{
		VehicleKey:  aveoKey,
		ContentID:   "procedure:wiper_blade",
		ChunkType:   "procedure",
		ContentText: longText("Use a Motorcraft replacement blade."),
	})

	require.False(t, v.Passed)
	assert.Equal(t, "cross_brand", v.Rule)
	assert.Equal(t, "Cross-brand contamination: FORD keywords [motorcraft] found in non-FORD vehicle", v.Reason)
}

func TestValidateCrossBrandAppliesToGMFamily(t *testing.T) {
	g := Default()

	v := g.Validate(Input{
		VehicleKey:  "2015_chevrolet_silverado_5.3l",
		ContentID:   "procedure:wiper_blade",
		ChunkType:   "procedure",
		ContentText: longText("Genuine Toyota blades fit as well."),
	})

	require.False(t, v.Passed)
	assert.Contains(t, v.Reason, "TOYOTA keywords [genuine toyota]")
}

func TestValidateCrossBrandAllowsOwnFamily(t *testing.T) {
	g := Default()

	tests := []struct {
		name string
		key  string
		text string
	}{
		{"gm parts in buick", "2012_buick_lacrosse_3.6l", "Install an ACDelco filter and use dexos approved oil."},
		{"motorcraft in lincoln", "2018_lincoln_navigator_3.5l", "Motorcraft parts are specified."},
		{"mopar in alfa romeo", "2019_alfa_romeo_giulia_2.0l", "Mopar parts are specified."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := g.Validate(Input{
				VehicleKey:  tt.key,
				ContentID:   "procedure:wiper_blade",
				ChunkType:   "procedure",
				ContentText: longText(tt.text),
			})
			assert.True(t, v.Passed, v.Reason)
		})
	}
}

func TestValidateWrongProcedure(t *testing.T) {
	g := Default()

	v := g.Validate(Input{
		VehicleKey:  aveoKey,
		ContentID:   "cylinder_head_removal",
		ChunkType:   "removal_steps",
		ContentText: longText("Then drain oil and add 5W-30."),
	})

	require.False(t, v.Passed)
	assert.Equal(t, "wrong_procedure", v.Rule)
	assert.Equal(t, "Oil-change contamination: [drain oil 5w-30] found in cylinder_head_removal", v.Reason)
}

func TestValidateWrongProcedureSkipsOilTopics(t *testing.T) {
	g := Default()

	v := g.Validate(Input{
		VehicleKey:  aveoKey,
		ContentID:   "oil_pan_removal",
		ChunkType:   "removal_steps",
		ContentText: longText("Drain oil before removing the pan."),
	})

	assert.True(t, v.Passed)
}

func TestValidateWrongProcedureIgnoresOtherTypes(t *testing.T) {
	g := Default()

	v := g.Validate(Input{
		VehicleKey:  aveoKey,
		ContentID:   "maintenance_overview",
		ChunkType:   "known_issues",
		ContentText: longText("Owners report using 5W-30."),
	})

	assert.True(t, v.Passed)
}

func TestValidateRequiredKeywords(t *testing.T) {
	g := Default()

	v := g.Validate(Input{
		VehicleKey:  aveoKey,
		ContentID:   "oxygen_sensor_testing",
		ChunkType:   "diagnosis",
		ContentText: longText("Check the wiring harness."),
	})

	require.False(t, v.Passed)
	assert.Equal(t, "required_keywords", v.Rule)
	assert.Equal(t, "Missing topic keywords: oxygen_sensor_testing must contain one of [oxygen o2 sensor]", v.Reason)
}

func TestValidateCleanContent(t *testing.T) {
	g := Default()

	v := g.Validate(Input{
		VehicleKey:  aveoKey,
		ContentID:   "drum_brake_service",
		ChunkType:   "procedure",
		Data:        map[string]any{"steps": []any{"Remove the drum", "Inspect the shoe lining"}},
		ContentText: longText("Adjust the star wheel."),
	})

	assert.True(t, v.Passed)
	assert.Empty(t, v.Rule)
}

type blockEverything struct{}

func (blockEverything) Name() string { return "block_everything" }
func (blockEverything) Evaluate(Content) Result { return Fail("blocked") }

func TestNewCustomPipeline(t *testing.T) {
	g := New(StubExemption{}, blockEverything{})

	assert.Equal(t, []string{"stub_exemption", "block_everything"}, g.Rules())

	v := g.Validate(Input{VehicleKey: aveoKey, ContentID: "x", ChunkType: "procedure"})
	assert.False(t, v.Passed)
	assert.Equal(t, "blocked", v.Reason)

	v = g.Validate(Input{VehicleKey: aveoKey, ContentID: "x", ChunkType: "procedure", ContentText: "being generated"})
	assert.True(t, v.Passed)
}

func TestNewContent(t *testing.T) {
	c := NewContent(Input{
		VehicleKey:  "2020_Ford_F150",
		ContentID:   "Spec:Oil",
		ChunkType:   "Spec",
		Data:        map[string]any{"Value": "ABC"},
		ContentText: "Hello",
	})

	assert.Equal(t, `{"value":"abc"} hello`, c.Text)
	assert.Equal(t, "ford", c.Make)
	assert.Equal(t, "spec:oil", c.ContentID)

	empty := NewContent(Input{VehicleKey: "2020_ford_f150"})
	assert.Equal(t, "{}", empty.Text)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guard.yaml")
	doc := `
brands:
  - name: ford
    keywords: [FoMoCo Genuine, motorcraft]
  - name: hyundai
    keywords: [mobis]
    family: [hyundai, kia, genesis]
topics:
  - name: coolant
    keywords: [thermostat]
  - name: wheel_bearing
    keywords: [bearing, hub]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	tables, err := LoadOverrides(path)
	require.NoError(t, err)

	ford := tables.Brands[0]
	assert.Equal(t, "ford", ford.Name)
	assert.Equal(t, []string{"motorcraft", "fomoco", "fomoco genuine"}, ford.Keywords)

	last := tables.Brands[len(tables.Brands)-1]
	assert.Equal(t, "hyundai", last.Name)

	coolant := tables.Topics[5]
	assert.Equal(t, "coolant", coolant.Name)
	assert.Contains(t, coolant.Keywords, "thermostat")
	assert.Equal(t, "wheel_bearing", tables.Topics[len(tables.Topics)-1].Name)

	g := FromTables(tables)
	v := g.Validate(Input{
		VehicleKey:  "2018_toyota_camry_2.5l",
		ContentID:   "procedure:wiper_blade",
		ChunkType:   "procedure",
		ContentText: longText("Mobis blades fit."),
	})
	assert.False(t, v.Passed)
	assert.Contains(t, v.Reason, "HYUNDAI")
}

func TestLoadOverridesErrors(t *testing.T) {
	_, err := LoadOverrides(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseOverrides([]byte("brands:\n  - keywords: [x]\n"))
	assert.Error(t, err)

	_, err = ParseOverrides([]byte("brands: [\n"))
	assert.Error(t, err)
}
