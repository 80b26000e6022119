package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"tle_judge/internal/common"
	"tle_judge/internal/domain/model"
	"tle_judge/internal/platform/sandbox"
)

// memStore is an in-memory stand-in for every repository. Conditional writes
// are atomic under mu, which is what the services rely on from Postgres.
type memStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	users        map[string]*model.User
	problems     map[string]*model.Problem
	cases        map[string][]model.TestCase
	subs         map[string]*model.Submission
	battles      map[string]*model.DuelBattle
	queue        map[string]time.Time
	drafts       map[string]model.DuelDraft
	ratings      map[string][]model.RatingRecord
	contests     map[string]*model.Contest
	participants map[string]bool

	completions map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		users:        map[string]*model.User{},
		problems:     map[string]*model.Problem{},
		cases:        map[string][]model.TestCase{},
		subs:         map[string]*model.Submission{},
		battles:      map[string]*model.DuelBattle{},
		queue:        map[string]time.Time{},
		drafts:       map[string]model.DuelDraft{},
		ratings:      map[string][]model.RatingRecord{},
		contests:     map[string]*model.Contest{},
		participants: map[string]bool{},
		completions:  map[string]int{},
	}
}

// WithinTx serialises transactions; FOR UPDATE locking collapses to that.
func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(ctx, nil)
}

func key(a, b string) string { return a + "|" + b }

// users

func (m *memStore) addUser(u model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.Rating == 0 {
		u.Rating = model.DefaultRating
	}
	if u.Division == "" {
		u.Division = model.DivisionBronze
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	m.users[u.ID] = &u
}

func (m *memStore) Create(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email || u.Username == user.Username {
			return common.ErrConflict
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) findUser(match func(*model.User) bool) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return m.findUser(func(u *model.User) bool { return u.Email == email })
}

func (m *memStore) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return m.findUser(func(u *model.User) bool { return u.Username == username })
}

func (m *memStore) FindByID(ctx context.Context, tx *sql.Tx, id string) (*model.User, error) {
	return m.findUser(func(u *model.User) bool { return u.ID == id })
}

func (m *memStore) LockUsers(ctx context.Context, tx *sql.Tx, ids ...string) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.User
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ApplyRatingChange(ctx context.Context, tx *sql.Tx, userID string, newRating int, result model.MatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return common.ErrNotFound
	}
	u.Rating = newRating
	switch result {
	case model.ResultWin:
		u.Wins++
	case model.ResultLoss:
		u.Losses++
	default:
		u.Draws++
	}
	return nil
}

func (m *memStore) AdvanceDivision(ctx context.Context, tx *sql.Tx, userID string, from, to model.Division) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.Division != from {
		return false, nil
	}
	u.Division = to
	return true, nil
}

func (m *memStore) Leaderboard(ctx context.Context, limit, offset int) ([]model.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LeaderboardEntry
	for _, u := range m.users {
		out = append(out, model.LeaderboardEntry{UserID: u.ID, Username: u.Username, Rating: u.Rating,
			Wins: u.Wins, Losses: u.Losses, Draws: u.Draws, Division: u.Division})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].Username < out[j].Username
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	if offset >= len(out) {
		return []model.LeaderboardEntry{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// problems

func (m *memStore) addProblem(p model.Problem, cases ...model.TestCase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status == "" {
		p.Status = model.StatusPublished
	}
	if p.Division == "" {
		p.Division = model.DivisionBronze
	}
	if p.TimeLimitMs == 0 {
		p.TimeLimitMs = 1000
	}
	m.problems[p.ID] = &p
	for i := range cases {
		cases[i].ProblemID = p.ID
		cases[i].SortOrder = i
	}
	m.cases[p.ID] = cases
}

func (m *memStore) CreateProblem(ctx context.Context, tx *sql.Tx, p *model.Problem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.problems {
		if existing.Slug == p.Slug {
			return common.ErrConflict
		}
	}
	cp := *p
	m.problems[p.ID] = &cp
	return nil
}

func (m *memStore) UpdateProblemStatus(ctx context.Context, tx *sql.Tx, id string, status model.ProblemStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.problems[id]
	if !ok {
		return common.ErrNotFound
	}
	p.Status = status
	return nil
}

func (m *memStore) FindProblemByID(ctx context.Context, tx *sql.Tx, id string) (*model.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.problems[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *p
	cp.TestCases = nil
	return &cp, nil
}

func (m *memStore) FindProblemBySlug(ctx context.Context, slug string) (*model.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.problems {
		if p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memStore) ListProblems(ctx context.Context, limit, offset int, division model.Division, status model.ProblemStatus, searchTerm string) ([]model.Problem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Problem
	for _, p := range m.problems {
		if (division == "" || p.Division == division) && (status == "" || p.Status == status) &&
			(searchTerm == "" || strings.Contains(strings.ToLower(p.Title), strings.ToLower(searchTerm))) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memStore) AddTestCasesToProblem(ctx context.Context, tx *sql.Tx, problemID string, testCases []model.TestCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[problemID] = append(m.cases[problemID], testCases...)
	return nil
}

func (m *memStore) GetTestCasesByProblemID(ctx context.Context, problemID string) ([]model.TestCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TestCase(nil), m.cases[problemID]...), nil
}

func (m *memStore) ListPublishedProblemIDs(ctx context.Context, tx *sql.Tx, division model.Division) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, p := range m.problems {
		if p.Status == model.StatusPublished && (division == "" || p.Division == division) {
			ids = append(ids, p.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// submissions

func (m *memStore) CreateSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *memStore) GetSubmissionByID(ctx context.Context, tx *sql.Tx, id string) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ClaimPending(ctx context.Context, id string) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.Status != model.StatusPending {
		return 0, false, nil
	}
	s.Status = model.StatusRunning
	s.JudgeAttempt++
	return s.JudgeAttempt, true, nil
}

func (m *memStore) CompleteJudging(ctx context.Context, id string, attempt int, v model.Verdict, judgedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.Status != model.StatusRunning || s.JudgeAttempt != attempt {
		return false, nil
	}
	total, max := v.TotalScore, v.MaxScore
	s.Status = v.Status
	s.TotalScore = &total
	s.MaxScore = &max
	s.FailedCaseIndex = v.FailedCaseIndex
	s.ExpectedOutput = v.ExpectedOutput
	s.ActualOutput = v.ActualOutput
	s.Detail = v.Detail
	s.JudgedAt = &judgedAt
	s.UpdatedAt = judgedAt
	m.completions[id]++
	return true, nil
}

func (m *memStore) ResetForRejudge(ctx context.Context, id string, staleBefore time.Time, detail model.SubmissionDetail) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return false, nil
	}
	if s.Status == model.StatusPending || (s.Status == model.StatusRunning && !s.UpdatedAt.Before(staleBefore)) {
		return false, nil
	}
	s.Status = model.StatusPending
	s.TotalScore, s.MaxScore, s.FailedCaseIndex = nil, nil, nil
	s.ExpectedOutput, s.ActualOutput, s.JudgedAt = nil, nil, nil
	s.Detail = detail
	s.JudgeAttempt++
	return true, nil
}

func (m *memStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.subs {
		if s.Status == model.StatusPending && s.UpdatedAt.Before(olderThan) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) sortedSubs(match func(*model.Submission) bool) []model.Submission {
	var out []model.Submission
	for _, s := range m.subs {
		if match(s) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memStore) ListSubmissionsByUser(ctx context.Context, userID string, limit, offset int) ([]model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sortedSubs(func(s *model.Submission) bool { return s.UserID == userID })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (m *memStore) ListBattleSubmissions(ctx context.Context, tx *sql.Tx, battleID string) ([]model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedSubs(func(s *model.Submission) bool {
		return s.Origin.BattleID != nil && *s.Origin.BattleID == battleID
	}), nil
}

func (m *memStore) LatestContestSubmissions(ctx context.Context, contestID, userID string) (map[string]*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := map[string]*model.Submission{}
	for _, s := range m.sortedSubs(func(s *model.Submission) bool {
		return s.UserID == userID && s.Origin.ContestID != nil && *s.Origin.ContestID == contestID
	}) {
		s := s
		latest[s.ProblemID] = &s
	}
	return latest, nil
}

// duels

func (m *memStore) InsertQueueEntry(ctx context.Context, tx *sql.Tx, userID string, joinedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queue[userID]; ok {
		return false, nil
	}
	m.queue[userID] = joinedAt
	return true, nil
}

func (m *memStore) DeleteQueueEntries(ctx context.Context, tx *sql.Tx, userIDs ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range userIDs {
		if _, ok := m.queue[id]; ok {
			delete(m.queue, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) orderedQueue() []model.DuelQueueEntry {
	out := make([]model.DuelQueueEntry, 0, len(m.queue))
	for id, at := range m.queue {
		out = append(out, model.DuelQueueEntry{UserID: id, JoinedAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (m *memStore) QueuePosition(ctx context.Context, userID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.orderedQueue()
	for i, e := range q {
		if e.UserID == userID {
			return i + 1, len(q), nil
		}
	}
	return 0, 0, common.ErrNotFound
}

func (m *memStore) LockOldestQueueEntries(ctx context.Context, tx *sql.Tx, limit int) ([]model.DuelQueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.orderedQueue()
	if len(q) > limit {
		q = q[:limit]
	}
	return q, nil
}

func (m *memStore) CreateBattle(ctx context.Context, tx *sql.Tx, b *model.DuelBattle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.battles[b.ID] = &cp
	return nil
}

func (m *memStore) GetBattle(ctx context.Context, tx *sql.Tx, id string, forUpdate bool) (*model.DuelBattle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.battles[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) FindRunningBattleForUser(ctx context.Context, tx *sql.Tx, userID string) (*model.DuelBattle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.battles {
		if b.Status == model.BattleRunning && b.HasPlayer(userID) {
			cp := *b
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memStore) RecentProblemIDs(ctx context.Context, tx *sql.Tx, userIDs []string, perUser int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, uid := range userIDs {
		var mine []*model.DuelBattle
		for _, b := range m.battles {
			if b.HasPlayer(uid) {
				mine = append(mine, b)
			}
		}
		sort.Slice(mine, func(i, j int) bool { return mine[i].StartedAt.After(mine[j].StartedAt) })
		for i := 0; i < len(mine) && i < perUser; i++ {
			seen[mine[i].ProblemID] = true
		}
	}
	var ids []string
	for id := range seen {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) FinishBattle(ctx context.Context, tx *sql.Tx, id string, winnerID *string, endedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.battles[id]
	if !ok || b.Status != model.BattleRunning {
		return false, nil
	}
	b.Status = model.BattleFinished
	b.WinnerID = winnerID
	b.EndedAt = &endedAt
	return true, nil
}

func (m *memStore) ListExpiredBattleIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, b := range m.battles {
		if b.Status == model.BattleRunning && !now.Before(b.Deadline()) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) InsertRatingRecords(ctx context.Context, tx *sql.Tx, records ...model.RatingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		for _, existing := range m.ratings[r.BattleID] {
			if existing.UserID == r.UserID {
				return common.StateConflict("rating_record", "written", "duplicate")
			}
		}
	}
	for _, r := range records {
		m.ratings[r.BattleID] = append(m.ratings[r.BattleID], r)
	}
	return nil
}

func (m *memStore) GetRatingRecords(ctx context.Context, tx *sql.Tx, battleID string) ([]model.RatingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.RatingRecord{}, m.ratings[battleID]...), nil
}

func (m *memStore) UpsertDraft(ctx context.Context, d *model.DuelDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[key(d.BattleID, d.UserID)] = *d
	return nil
}

func (m *memStore) GetDraft(ctx context.Context, battleID, userID string) (*model.DuelDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[key(battleID, userID)]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &d, nil
}

// contests

func (m *memStore) CreateContest(ctx context.Context, tx *sql.Tx, c *model.Contest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.ProblemIDs = append([]string(nil), c.ProblemIDs...)
	m.contests[c.ID] = &cp
	return nil
}

func (m *memStore) FindContestByID(ctx context.Context, id string) (*model.Contest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contests[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) FindActiveContest(ctx context.Context, division model.Division, now time.Time) (*model.Contest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.Contest
	for _, c := range m.contests {
		if c.Division != division || !c.IsPublished || c.StartsAt.After(now) {
			continue
		}
		if best == nil || c.StartsAt.After(best.StartsAt) {
			best = c
		}
	}
	if best == nil {
		return nil, common.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memStore) AddParticipant(ctx context.Context, contestID, userID string, joinedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(contestID, userID)
	if m.participants[k] {
		return false, nil
	}
	m.participants[k] = true
	return true, nil
}

func (m *memStore) IsParticipant(ctx context.Context, contestID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.participants[key(contestID, userID)], nil
}

func (m *memStore) submission(id string) model.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.subs[id]
}

func (m *memStore) onlySubmissionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.subs {
		return id
	}
	return ""
}

func (m *memStore) completionCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completions[id]
}

func (m *memStore) ratingRecords(battleID string) []model.RatingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.RatingRecord(nil), m.ratings[battleID]...)
}

func (m *memStore) user(id string) model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

// memQueue is a FIFO without the duplicate suppression of the Redis queue
// when dup is set, so tests can hand the same id to two drains.
type memQueue struct {
	mu  sync.Mutex
	ids []string
	dup bool
}

func (q *memQueue) Enqueue(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.dup {
		for _, existing := range q.ids {
			if existing == id {
				return false, nil
			}
		}
	}
	q.ids = append(q.ids, id)
	return true, nil
}

func (q *memQueue) Pop(ctx context.Context, n int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.ids) {
		n = len(q.ids)
	}
	out := append([]string(nil), q.ids[:n]...)
	q.ids = q.ids[n:]
	return out, nil
}

func (q *memQueue) Position(ctx context.Context, id string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, existing := range q.ids {
		if existing == id {
			return int64(i + 1), nil
		}
	}
	return 0, nil
}

func (q *memQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ids)), nil
}

type sandboxFunc func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error)

func (f sandboxFunc) Run(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
	return f(ctx, req)
}

// clock is a settable time source shared by the services under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Tick returns the current time and moves the clock forward a millisecond,
// so consecutive creations get distinct timestamps.
func (c *clock) Tick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(time.Millisecond)
	return t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testLanguages = model.NewLanguageSet([]model.Language{
	{Slug: "python", Name: "Python 3", Runtime: "python", Version: "3.10.0", FileName: "main.py", IsActive: true},
	{Slug: "cpp", Name: "C++17", Runtime: "c++", Version: "10.2.0", FileName: "main.cpp", IsActive: true},
})

// testEnv wires every service to one memStore and one clock.
type testEnv struct {
	store       *memStore
	queue       *memQueue
	clock       *clock
	grading     *GradingService
	submissions *SubmissionService
	battles     *BattleService
	duels       *DuelService
	promotion   *PromotionService
	contests    *ContestService
}

// newTestEnv builds the services around sb. A nil sandbox echoes the
// expected answer of an A+B problem.
func newTestEnv(t *testing.T, sb sandbox.Sandbox) *testEnv {
	t.Helper()
	if sb == nil {
		sb = aPlusBSandbox(nil)
	}
	log := zaptest.NewLogger(t)
	store := newMemStore()
	queue := &memQueue{}
	clk := newClock()

	grading := NewGradingService(store, store, queue, sb, GradingOptions{Languages: testLanguages}, log)
	grading.now = clk.Now
	submissions := NewSubmissionService(store, store, store, grading, SubmissionOptions{
		Languages:         testLanguages,
		RejudgeStaleAfter: 5 * time.Minute,
	}, log)
	submissions.now = clk.Tick
	battles := NewBattleService(store, store, store, store, submissions, grading, BattleOptions{
		PendingGrace: 30 * time.Second,
	}, log)
	battles.now = clk.Now
	duels := NewDuelService(store, store, store, store, battles, DuelOptions{
		DurationSec:         600,
		RecentProblemWindow: 3,
		WaitPerPositionSec:  15,
	}, log)
	duels.now = clk.Tick
	duels.pick = func(int) int { return 0 }
	promotion := NewPromotionService(store, store, store, nil, log)
	promotion.now = clk.Now
	contests := NewContestService(store, store, store, store, log)
	contests.now = clk.Now

	return &testEnv{
		store:       store,
		queue:       queue,
		clock:       clk,
		grading:     grading,
		submissions: submissions,
		battles:     battles,
		duels:       duels,
		promotion:   promotion,
		contests:    contests,
	}
}

// aPlusBSandbox sums the two integers on stdin. Inputs listed in wrong get
// the sum minus one.
func aPlusBSandbox(wrong map[string]bool) sandboxFunc {
	return aPlusBSandboxFunc(func(stdin string) bool { return wrong[stdin] })
}

func aPlusBSandboxFunc(wrong func(stdin string) bool) sandboxFunc {
	return func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
		var a, b int
		if _, err := fmt.Sscan(req.Stdin, &a, &b); err != nil {
			return &sandbox.Result{ExitCode: 1, Stderr: err.Error()}, nil
		}
		sum := a + b
		if wrong(req.Stdin) {
			sum--
		}
		return &sandbox.Result{Stdout: strconv.Itoa(sum)}, nil
	}
}

func aPlusBProblem(id string, division model.Division) (model.Problem, []model.TestCase) {
	return model.Problem{ID: id, Title: "A+B " + id, Slug: "a-plus-b-" + id, Division: division, Checker: model.CheckerExact},
		[]model.TestCase{
			{ID: id + "-s1", Input: "1 2", ExpectedOutput: "3", IsHidden: false, ScoreWeight: 0, GroupName: "sample|Sample"},
			{ID: id + "-h1", Input: "9 8", ExpectedOutput: "17", IsHidden: true, ScoreWeight: 100, GroupName: "main|Hidden"},
		}
}

func (e *testEnv) seedProblem(id string, division model.Division) {
	p, cases := aPlusBProblem(id, division)
	e.store.addProblem(p, cases...)
}
