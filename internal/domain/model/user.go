package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	DefaultRating = 1500
)

type Division string

const (
	DivisionBronze   Division = "Bronze"
	DivisionSilver   Division = "Silver"
	DivisionGold     Division = "Gold"
	DivisionPlatinum Division = "Platinum"
)

var divisionLadder = []Division{DivisionBronze, DivisionSilver, DivisionGold, DivisionPlatinum}

// ParseDivision accepts a division name case-insensitively.
func ParseDivision(s string) (Division, error) {
	for _, d := range divisionLadder {
		if strings.EqualFold(string(d), strings.TrimSpace(s)) {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown division %q", s)
}

func (d Division) rank() int {
	for i, v := range divisionLadder {
		if v == d {
			return i
		}
	}
	return -1
}

// Next returns the division one ladder step above d. Platinum has no next step.
func (d Division) Next() (Division, bool) {
	i := d.rank()
	if i < 0 || i == len(divisionLadder)-1 {
		return d, false
	}
	return divisionLadder[i+1], true
}

// Lower returns the lower of two divisions.
func Lower(a, b Division) Division {
	if b.rank() < a.rank() {
		return b
	}
	return a
}

type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"` // Not exposed
	Role           string    `json:"role"`
	Rating         int       `json:"rating"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	Draws          int       `json:"draws"`
	Division       Division  `json:"division"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
