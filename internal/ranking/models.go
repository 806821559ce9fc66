package ranking

// Performance is one scoring dimension registered for a game
type Performance struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// Game registers a game and its scoring dimensions with the ranking service
type Game struct {
	GameName        string        `json:"game_name"`
	GameMode        string        `json:"game_mode"`
	MaxStars        int           `json:"max_stars"`
	Description     string        `json:"description"`
	PerformanceList []Performance `json:"performance_list"`
}

// PlayerPerformance is the occurrence count of one performance in a match
type PlayerPerformance struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// PlayerMatch is one player's scored participation in a match
type PlayerMatch struct {
	PlayerID           string              `json:"player_id"`
	PlayerPerformances []PlayerPerformance `json:"player_performances"`
}

// Match is a finished match submitted for rating
type Match struct {
	GameName        string        `json:"game_name"`
	GameMode        string        `json:"game_mode"`
	PlayerMatchList []PlayerMatch `json:"player_match_list"`
}
