package model

import "time"

// ContestProblemCount is the fixed size of a ladder contest.
const ContestProblemCount = 3

type Contest struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Division    Division  `json:"division"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	IsPublished bool      `json:"is_published"`
	ProblemIDs  []string  `json:"problem_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// AcceptsSubmissionsAt reports whether t falls inside the contest window.
func (c *Contest) AcceptsSubmissionsAt(t time.Time) bool {
	return c.IsPublished && !t.Before(c.StartsAt) && t.Before(c.EndsAt)
}

func (c *Contest) HasProblem(problemID string) bool {
	for _, id := range c.ProblemIDs {
		if id == problemID {
			return true
		}
	}
	return false
}

type ContestParticipant struct {
	ContestID string    `json:"contest_id"`
	UserID    string    `json:"user_id"`
	JoinedAt  time.Time `json:"joined_at"`
}
