package agent

import "strings"

// Theme names the display vocabulary of a council.
type Theme string

const (
	ThemeShogunate  Theme = "Shogunate"
	ThemeBanditCamp Theme = "Bandit Camp"
	ThemeNeonTokyo  Theme = "Neon Tokyo"

	DefaultTheme = ThemeShogunate
)

type persona struct {
	Name   string
	Avatar string
}

type themeSpec struct {
	Description string
	Personas    map[Role]persona
}

var themes = map[Theme]themeSpec{
	ThemeShogunate: {
		Description: "Feudal Japanese imperial court",
		Personas: map[Role]persona{
			RoleArbiter:     {"Emperor 天皇", "👑"},
			RolePlanner:     {"Strategist 軍師", "🎯"},
			RoleImplementer: {"Executor 刀匠", "⚔️"},
			RoleReasoner:    {"Inquisitor 審問官", "🔍"},
			RoleInnovator:   {"Innovator 発明家", "💡"},
			RoleSummarizer:  {"Scribe 書記", "📜"},
		},
	},
	ThemeBanditCamp: {
		Description: "Outlaw hideout in the mountains",
		Personas: map[Role]persona{
			RoleArbiter:     {"Chieftain", "🏴"},
			RolePlanner:     {"Scout", "🗺️"},
			RoleImplementer: {"Blacksmith", "🔨"},
			RoleReasoner:    {"Interrogator", "🗡️"},
			RoleInnovator:   {"Tinkerer", "🧪"},
			RoleSummarizer:  {"Chronicler", "📖"},
		},
	},
	ThemeNeonTokyo: {
		Description: "Cyberpunk megacity collective",
		Personas: map[Role]persona{
			RoleArbiter:     {"Overmind", "🧠"},
			RolePlanner:     {"Netrunner", "🛰️"},
			RoleImplementer: {"Codesmith", "💾"},
			RoleReasoner:    {"Sentinel", "🛡️"},
			RoleInnovator:   {"Glitch Artist", "🌀"},
			RoleSummarizer:  {"Archivist", "🗄️"},
		},
	},
}

// ParseTheme returns the theme matching s case-insensitively, or DefaultTheme.
func ParseTheme(s string) Theme {
	s = strings.TrimSpace(s)
	for t := range themes {
		if strings.EqualFold(string(t), s) {
			return t
		}
	}
	return DefaultTheme
}

// Themes lists the built-in themes, default first.
func Themes() []Theme {
	return []Theme{ThemeShogunate, ThemeBanditCamp, ThemeNeonTokyo}
}

// Description returns a one-line description of the theme.
func (t Theme) Description() string {
	return themes[ParseTheme(string(t))].Description
}
