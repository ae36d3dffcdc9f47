// Package leaderboard derives ranked standings from live equity. Rankings
// are recomputed per request rather than incrementally maintained —
// competitions hold tens to low hundreds of entries, so O(n log n) per poll
// buys correctness-by-construction.
package leaderboard

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxarena/arena-engine/internal/ledger"
	"github.com/fxarena/arena-engine/internal/model"
)

// Standing is one entry's inputs to the ranking.
type Standing struct {
	EntryID              string
	UserID               string
	StartingBalanceCents int64
	EquityCents          int64
	DrawdownPct          decimal.Decimal
	JoinedAt             time.Time
}

// Rank orders standings best return first. Ties break by earlier join time,
// then by entry ID, so the ordering is fully deterministic.
func Rank(standings []Standing) []model.LeaderboardRow {
	rows := make([]model.LeaderboardRow, 0, len(standings))
	for _, s := range standings {
		rows = append(rows, model.LeaderboardRow{
			EntryID:     s.EntryID,
			UserID:      s.UserID,
			EquityCents: s.EquityCents,
			ReturnPct:   ledger.ReturnPct(s.StartingBalanceCents, s.EquityCents),
			DrawdownPct: s.DrawdownPct,
		})
	}

	joined := make(map[string]time.Time, len(standings))
	for _, s := range standings {
		joined[s.EntryID] = s.JoinedAt
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.ReturnPct.Equal(b.ReturnPct) {
			return a.ReturnPct.GreaterThan(b.ReturnPct)
		}
		ja, jb := joined[a.EntryID], joined[b.EntryID]
		if !ja.Equal(jb) {
			return ja.Before(jb)
		}
		return a.EntryID < b.EntryID
	})

	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}
