package agent

import (
	"sort"

	"matchfabric/internal/broker"
	"matchfabric/internal/ranking"
	"matchfabric/internal/state"
)

// ProjectResult flattens a match result into the ranking service's match
// shape. Winners come first, then losers, each group ordered by points
// descending. Performance strings are bag-counted per player and a synthetic
// "point" performance carries the player's point total.
func ProjectResult(r broker.MatchResult, match state.ActiveMatch) ranking.Match {
	players := append(sortByPoints(r.Winners), sortByPoints(r.Losers)...)

	list := make([]ranking.PlayerMatch, 0, len(players))
	for _, p := range players {
		perfs := countPerformances(r.Ranking.Performances[p.id])
		perfs = append(perfs, ranking.PlayerPerformance{Name: "point", Count: p.points})
		list = append(list, ranking.PlayerMatch{PlayerID: p.id, PlayerPerformances: perfs})
	}

	return ranking.Match{
		GameName:        match.Game,
		GameMode:        match.Mode,
		PlayerMatchList: list,
	}
}

type scored struct {
	id     string
	points int
}

func sortByPoints(m map[string]int) []scored {
	out := make([]scored, 0, len(m))
	for id, points := range m {
		out = append(out, scored{id: id, points: points})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].points != out[j].points {
			return out[i].points > out[j].points
		}
		return out[i].id < out[j].id
	})
	return out
}

// countPerformances bag-counts the raw performance log, keeping the order of
// first appearance
func countPerformances(raw []string) []ranking.PlayerPerformance {
	counts := make(map[string]int)
	order := []string{}
	for _, name := range raw {
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
	}

	out := make([]ranking.PlayerPerformance, 0, len(order)+1)
	for _, name := range order {
		out = append(out, ranking.PlayerPerformance{Name: name, Count: counts[name]})
	}
	return out
}
