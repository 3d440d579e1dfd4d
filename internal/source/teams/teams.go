// Package teams is the static list of NBA franchises the sync job walks.
package teams

import (
	"fmt"
	"strings"
)

// Team is one franchise as the stats API identifies it.
type Team struct {
	ID           int64
	Abbreviation string
	FullName     string
}

// StatsTable is the destination table for this team's year-by-year stats.
func (t Team) StatsTable() string { return t.Abbreviation + "_stats_raw" }

var all = []Team{
	{1610612737, "ATL", "Atlanta Hawks"},
	{1610612738, "BOS", "Boston Celtics"},
	{1610612739, "CLE", "Cleveland Cavaliers"},
	{1610612740, "NOP", "New Orleans Pelicans"},
	{1610612741, "CHI", "Chicago Bulls"},
	{1610612742, "DAL", "Dallas Mavericks"},
	{1610612743, "DEN", "Denver Nuggets"},
	{1610612744, "GSW", "Golden State Warriors"},
	{1610612745, "HOU", "Houston Rockets"},
	{1610612746, "LAC", "Los Angeles Clippers"},
	{1610612747, "LAL", "Los Angeles Lakers"},
	{1610612748, "MIA", "Miami Heat"},
	{1610612749, "MIL", "Milwaukee Bucks"},
	{1610612750, "MIN", "Minnesota Timberwolves"},
	{1610612751, "BKN", "Brooklyn Nets"},
	{1610612752, "NYK", "New York Knicks"},
	{1610612753, "ORL", "Orlando Magic"},
	{1610612754, "IND", "Indiana Pacers"},
	{1610612755, "PHI", "Philadelphia 76ers"},
	{1610612756, "PHX", "Phoenix Suns"},
	{1610612757, "POR", "Portland Trail Blazers"},
	{1610612758, "SAC", "Sacramento Kings"},
	{1610612759, "SAS", "San Antonio Spurs"},
	{1610612760, "OKC", "Oklahoma City Thunder"},
	{1610612761, "TOR", "Toronto Raptors"},
	{1610612762, "UTA", "Utah Jazz"},
	{1610612763, "MEM", "Memphis Grizzlies"},
	{1610612764, "WAS", "Washington Wizards"},
	{1610612765, "DET", "Detroit Pistons"},
	{1610612766, "CHA", "Charlotte Hornets"},
}

// All returns a copy of the team list in franchise-id order.
func All() []Team {
	out := make([]Team, len(all))
	copy(out, all)
	return out
}

// ByAbbreviation looks a team up case-insensitively.
func ByAbbreviation(abbr string) (Team, bool) {
	for _, t := range all {
		if strings.EqualFold(t.Abbreviation, abbr) {
			return t, true
		}
	}
	return Team{}, false
}

// Select resolves a list of abbreviations. An empty list selects every team.
func Select(abbrs []string) ([]Team, error) {
	if len(abbrs) == 0 {
		return All(), nil
	}
	out := make([]Team, 0, len(abbrs))
	seen := make(map[int64]bool, len(abbrs))
	for _, a := range abbrs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		t, ok := ByAbbreviation(a)
		if !ok {
			return nil, fmt.Errorf("teams: unknown abbreviation %q", a)
		}
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	return out, nil
}
