package statsapi

import (
	"context"
	"net/url"
	"strconv"

	"statsync/internal/dataset"
)

// League and season-type values accepted by the endpoints below.
const (
	LeagueNBA         = "00"
	SeasonRegular     = "Regular Season"
	SeasonPlayoffs    = "Playoffs"
	perModeTotals     = "Totals"
	playerOrTeamTeams = "T"
)

// LeagueGameFinder returns the game log for league and seasonType, one row
// per team per game.
func (c *Client) LeagueGameFinder(ctx context.Context, league, seasonType string) (dataset.Dataset, error) {
	q := url.Values{}
	q.Set("PlayerOrTeam", playerOrTeamTeams)
	q.Set("LeagueID", league)
	q.Set("SeasonType", seasonType)
	return c.ResultSet(ctx, "leaguegamefinder", q)
}

// TeamYearByYearStats returns one row per season for teamID.
func (c *Client) TeamYearByYearStats(ctx context.Context, teamID int64) (dataset.Dataset, error) {
	q := url.Values{}
	q.Set("TeamID", strconv.FormatInt(teamID, 10))
	q.Set("LeagueID", LeagueNBA)
	q.Set("PerMode", perModeTotals)
	q.Set("SeasonType", SeasonRegular)
	return c.ResultSet(ctx, "teamyearbyyearstats", q)
}
