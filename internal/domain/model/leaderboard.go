package model

type LeaderboardEntry struct {
	Rank     int      `json:"rank"`
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Rating   int      `json:"rating"`
	Wins     int      `json:"wins"`
	Losses   int      `json:"losses"`
	Draws    int      `json:"draws"`
	Division Division `json:"division"`
}
