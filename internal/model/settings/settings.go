package settings

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Theme identifiers understood by the frontend.
const (
	ThemeRomantic = "romantic"
	ThemeOcean    = "ocean"
	ThemeNature   = "nature"
	ThemeSunset   = "sunset"
	ThemeMidnight = "midnight"
)

// DefaultNewsRefreshInterval is the news freshness window in minutes.
const DefaultNewsRefreshInterval = 20

var (
	themes = []string{ThemeRomantic, ThemeOcean, ThemeNature, ThemeSunset, ThemeMidnight}
	fonts  = []string{"Quicksand", "Inter", "Playfair Display", "Fira Code"}
)

// AppSettings is the single user-editable configuration record.
type AppSettings struct {
	UserName            string `json:"userName"`
	PartnerName         string `json:"partnerName"`
	SystemPrompt        string `json:"systemPrompt"`
	CustomMemories      string `json:"customMemories"`
	ThemeID             string `json:"themeId"`
	FontFamily          string `json:"fontFamily"`
	NewsRefreshInterval int    `json:"newsRefreshInterval"`

	KeyOpenRouter  string `json:"keyOpenRouter,omitempty"`
	KeyHuggingFace string `json:"keyHuggingFace,omitempty"`
	KeyGNews       string `json:"keyGNews,omitempty"`
}

// Defaults returns the factory persona and appearance.
func Defaults() AppSettings {
	return AppSettings{
		UserName:    "Tera Hero",
		PartnerName: "Meri Jaan",
		SystemPrompt: `You are a loving, romantic, and caring boyfriend. You speak strictly in Hinglish (a mix of Hindi and English). ` +
			`Your tone is casual, flirtatious, and deeply affectionate. Treat the user as your girlfriend. ` +
			`Always ask about her well-being, use endearments like "Baby", "Shona", "Jaan", "Babu". ` +
			`Example responses: "Kaisi ho baby?", "Khana khaya tumne?", "Aaj ka din kaisa tha?", "Main tumhara hi wait kar raha tha". ` +
			`Be witty, supportive, and act exactly like a real boyfriend would.`,
		CustomMemories:      "",
		ThemeID:             ThemeRomantic,
		FontFamily:          "Quicksand",
		NewsRefreshInterval: DefaultNewsRefreshInterval,
	}
}

// Merge overlays a persisted (possibly older or partial) JSON record on top of
// the defaults. Fields missing from raw keep their default values.
func Merge(raw []byte) (AppSettings, error) {
	merged := Defaults()
	if len(raw) == 0 {
		return merged, nil
	}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return Defaults(), fmt.Errorf("decode settings: %w", err)
	}
	return merged.Normalize(), nil
}

// UnmarshalJSON backfills absent fields from Defaults so that every decode
// path yields a complete record.
func (s *AppSettings) UnmarshalJSON(data []byte) error {
	type plain AppSettings
	merged := plain(Defaults())
	if err := json.Unmarshal(data, &merged); err != nil {
		return err
	}
	*s = AppSettings(merged)
	return nil
}

// Normalize replaces out-of-range values with their defaults.
func (s AppSettings) Normalize() AppSettings {
	def := Defaults()
	if !contains(themes, s.ThemeID) {
		s.ThemeID = def.ThemeID
	}
	if !contains(fonts, s.FontFamily) {
		s.FontFamily = def.FontFamily
	}
	if s.NewsRefreshInterval <= 0 {
		s.NewsRefreshInterval = def.NewsRefreshInterval
	}
	s.KeyOpenRouter = strings.TrimSpace(s.KeyOpenRouter)
	s.KeyHuggingFace = strings.TrimSpace(s.KeyHuggingFace)
	s.KeyGNews = strings.TrimSpace(s.KeyGNews)
	return s
}

// NewsWindow is the freshness window of the news cache.
func (s AppSettings) NewsWindow() time.Duration {
	minutes := s.NewsRefreshInterval
	if minutes <= 0 {
		minutes = DefaultNewsRefreshInterval
	}
	return time.Duration(minutes) * time.Minute
}

// Redacted hides the manual key overrides, leaving a marker when one is set.
func (s AppSettings) Redacted() AppSettings {
	s.KeyOpenRouter = mask(s.KeyOpenRouter)
	s.KeyHuggingFace = mask(s.KeyHuggingFace)
	s.KeyGNews = mask(s.KeyGNews)
	return s
}

// RedactedKey is the marker Redacted leaves in place of a set key.
const RedactedKey = "********"

// RestoreRedacted copies keys from prev wherever s still carries the marker,
// so a redacted record can be written back without losing credentials.
func (s AppSettings) RestoreRedacted(prev AppSettings) AppSettings {
	if s.KeyOpenRouter == RedactedKey {
		s.KeyOpenRouter = prev.KeyOpenRouter
	}
	if s.KeyHuggingFace == RedactedKey {
		s.KeyHuggingFace = prev.KeyHuggingFace
	}
	if s.KeyGNews == RedactedKey {
		s.KeyGNews = prev.KeyGNews
	}
	return s
}

func mask(key string) string {
	if key == "" {
		return ""
	}
	return RedactedKey
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
