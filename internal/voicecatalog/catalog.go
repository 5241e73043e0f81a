// Package voicecatalog holds the static voice-id catalog. Sourcing and
// maintaining the catalog is a thin collaborator's concern; this
// package only carries the data needed by /api/voices and by the
// effective-voice resolver's tests.
package voicecatalog

// Voice is one entry in the static catalog.
type Voice struct {
	ID   string
	Name string
}

// FallbackVoice is the primary-provider voice used as the default
// fallback_voice (and default voice) of a guild's settings.
const FallbackVoice = "en_us_001"

// GoogleVoiceID is the voice id routed to the fallback (translator)
// provider rather than the primary provider.
const GoogleVoiceID = "google_translate"

// Primary is the primary-provider voice catalog.
var Primary = []Voice{
	{"en_us_ghostface", "Ghost Face"},
	{"en_us_c3po", "C3PO"},
	{"en_us_stitch", "Stitch"},
	{"en_us_stormtrooper", "Stormtrooper"},
	{"en_us_rocket", "Rocket"},
	{"en_female_madam_leota", "Madame Leota"},
	{"en_male_ghosthost", "Ghost Host"},
	{"en_male_pirate", "Pirate"},
	{"en_us_001", "English US (Default)"},
	{"en_us_002", "Jessie"},
	{"en_us_006", "Joey"},
	{"en_us_007", "Professor"},
	{"en_us_009", "Scientist"},
	{"en_us_010", "Confidence"},
	{"en_male_jomboy", "Game On"},
	{"en_female_samc", "Empathetic"},
	{"en_male_cody", "Serious"},
	{"en_female_makeup", "Beauty Guru"},
	{"en_female_richgirl", "Bestie"},
	{"en_male_grinch", "Trickster"},
	{"en_male_narration", "Story Teller"},
	{"en_male_deadpool", "Mr. GoodGuy"},
	{"en_male_jarvis", "Alfred"},
	{"en_male_ashmagic", "ashmagic"},
	{"en_male_olantekkers", "olantekkers"},
	{"en_male_ukneighbor", "Lord Cringe"},
	{"en_male_ukbutler", "Mr. Meticulous"},
	{"en_female_shenna", "Debutante"},
	{"en_female_pansino", "Varsity"},
	{"en_male_trevor", "Marty"},
	{"en_female_betty", "Bae"},
	{"en_male_cupid", "Cupid"},
	{"en_female_grandma", "Granny"},
	{"en_male_wizard", "Magician"},
	{"en_uk_001", "Narrator"},
	{"en_uk_003", "Male English UK"},
	{"en_au_001", "Metro"},
	{"en_au_002", "Smooth"},
	{"es_mx_002", "Warm"},
}

// Fallback is the translator-provider catalog (currently one voice).
var Fallback = []Voice{
	{GoogleVoiceID, "Normal voice"},
}

// All is Primary followed by Fallback, the full catalog surfaced by
// GET /api/voices.
var All = append(append([]Voice{}, Primary...), Fallback...)

var byID = func() map[string]string {
	m := make(map[string]string, len(All))
	for _, v := range All {
		m[v.ID] = v.Name
	}
	return m
}()

// Name returns the display name for a voice id, or "" if unknown.
func Name(id string) string {
	return byID[id]
}

// Known reports whether id is present in the catalog.
func Known(id string) bool {
	_, ok := byID[id]
	return ok
}

// IsFallbackProviderVoice reports whether id is routed to the
// fallback (translator) TTS provider rather than the primary provider.
func IsFallbackProviderVoice(id string) bool {
	return id == GoogleVoiceID || (len(id) >= 7 && id[:7] == "google_")
}

// IDs returns the catalog's voice ids in the order they are declared
// above (first entries are the "popular" ones used by the original
// autocomplete curation).
func IDs() []string {
	ids := make([]string, len(All))
	for i, v := range All {
		ids[i] = v.ID
	}
	return ids
}
