package app

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"qmaster-service/internal/domain"
)

// LeaderboardAggregator derives rankings and reports from stored submissions. Nothing it
// returns is persisted.
type LeaderboardAggregator struct {
	pools       PoolRepository
	sessions    SessionRepository
	submissions SubmissionRepository
	logger      *zap.Logger
}

func NewLeaderboardAggregator(store Store, logger *zap.Logger) *LeaderboardAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaderboardAggregator{
		pools:       store.Pools,
		sessions:    store.Sessions,
		submissions: store.Submissions,
		logger:      logger,
	}
}

// Rank returns the session's leaderboard. A session without submissions has no entries and
// a class average of 0.
func (a *LeaderboardAggregator) Rank(ctx context.Context, token string) (domain.Leaderboard, error) {
	session, err := a.sessions.Get(ctx, token)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	subs, err := a.submissions.ListBySession(ctx, token)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return domain.Leaderboard{
		Token:          token,
		Entries:        rankEntries(subs),
		ClassAverage:   classAverage(subs),
		TotalQuestions: session.TotalQuestions(),
	}, nil
}

// rankEntries orders by score descending, then earlier submission, then participant id, and
// assigns dense ranks: equal scores share a rank and the next distinct score takes rank+1.
func rankEntries(subs []domain.Submission) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(subs))
	for _, sub := range subs {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: sub.ParticipantID,
			Score:         sub.Score,
			TotalMarks:    sub.TotalMarks,
			SubmittedAt:   sub.SubmittedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if !entries[i].SubmittedAt.Equal(entries[j].SubmittedAt) {
			return entries[i].SubmittedAt.Before(entries[j].SubmittedAt)
		}
		return entries[i].ParticipantID < entries[j].ParticipantID
	})
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Score != entries[i-1].Score {
			rank++
		}
		entries[i].Rank = rank
	}
	return entries
}

func classAverage(subs []domain.Submission) float64 {
	if len(subs) == 0 {
		return 0
	}
	var sum float64
	for _, sub := range subs {
		sum += sub.Score
	}
	return round2(sum / float64(len(subs)))
}

// Results returns every submission of a session, with answers and per-item grades, to the
// session's creator.
func (a *LeaderboardAggregator) Results(ctx context.Context, token, requesterID string) (domain.SessionResults, error) {
	session, err := a.sessions.Get(ctx, token)
	if err != nil {
		return domain.SessionResults{}, err
	}
	if session.CreatedBy != requesterID {
		return domain.SessionResults{}, domain.ErrSessionAccessDenied
	}
	subs, err := a.submissions.ListBySession(ctx, token)
	if err != nil {
		return domain.SessionResults{}, err
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].SubmittedAt.Before(subs[j].SubmittedAt)
	})
	return domain.SessionResults{Token: token, Submissions: subs, ClassAverage: classAverage(subs)}, nil
}

// Submission returns one participant's graded submission.
func (a *LeaderboardAggregator) Submission(ctx context.Context, token, participantID string) (domain.Submission, error) {
	if _, err := a.sessions.Get(ctx, token); err != nil {
		return domain.Submission{}, err
	}
	return a.submissions.Get(ctx, token, participantID)
}

// History returns a participant's submissions across sessions, newest first.
func (a *LeaderboardAggregator) History(ctx context.Context, participantID string) ([]domain.Submission, error) {
	subs, err := a.submissions.ListByParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].SubmittedAt.After(subs[j].SubmittedAt)
	})
	return subs, nil
}

// QuestionHistory reports, for each item of a pool, how every participant of every session
// drawn from it answered.
func (a *LeaderboardAggregator) QuestionHistory(ctx context.Context, poolID, requesterID string) ([]domain.QuestionHistory, error) {
	pool, err := a.pools.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool.OwnerID != requesterID {
		return nil, domain.ErrPoolAccessDenied
	}
	sessions, err := a.sessions.ListByPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	perItem := make(map[string][]domain.ParticipantPerformance, len(pool.Items))
	for _, session := range sessions {
		subs, err := a.submissions.ListBySession(ctx, session.Token)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			for _, res := range sub.Results {
				perf := domain.ParticipantPerformance{
					SessionToken:  sub.SessionToken,
					ParticipantID: sub.ParticipantID,
					Answer:        res.Answer,
					Similarity:    res.Similarity,
					Awarded:       res.Awarded,
					SubmittedAt:   sub.SubmittedAt,
				}
				if res.Kind == domain.KindMCQ {
					correct := res.Marks > 0 && res.Awarded >= res.Marks
					perf.Correct = &correct
				}
				perItem[res.ItemID] = append(perItem[res.ItemID], perf)
			}
		}
	}

	out := make([]domain.QuestionHistory, 0, len(pool.Items))
	for _, item := range pool.Items {
		perf := perItem[item.ID]
		if perf == nil {
			perf = []domain.ParticipantPerformance{}
		}
		sort.Slice(perf, func(i, j int) bool {
			return perf[i].SubmittedAt.Before(perf[j].SubmittedAt)
		})
		out = append(out, domain.QuestionHistory{Item: item, Performance: perf})
	}
	return out, nil
}
