package project

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhub/swarmhub/internal/hub/state"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
)

func announce(t *testing.T, a *Actor, c Caller, taskID string) {
	t.Helper()
	resp := submit(t, a, c, wire.TypeAuctionAnnounce, map[string]any{
		"task_id": taskID, "duration_ms": 50,
	})
	require.Nil(t, resp.Error, "auction_announce: %+v", resp.Error)
}

func bid(t *testing.T, a *Actor, c Caller, taskID string, score float64) {
	t.Helper()
	resp := submit(t, a, c, wire.TypeAuctionBid, map[string]any{
		"task_id": taskID, "score": score,
	})
	require.Nil(t, resp.Error, "auction_bid: %+v", resp.Error)
}

func TestAuctionHighestScoreWins(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	bob := register(t, a, "bob")
	carol := register(t, a, "carol")
	task := createTask(t, a, alice, map[string]any{"title": "contended"})

	announce(t, a, alice, task.ID)
	bid(t, a, alice, task.ID, 0.3)
	bid(t, a, bob, task.ID, 0.9)
	bid(t, a, carol, task.ID, 0.5)

	advance(t, a, time.Second)
	require.NoError(t, a.Inspect(context.Background(), func(s *state.State) {
		tk := s.Tasks[task.ID]
		assert.Equal(t, state.TaskInProgress, tk.Status)
		assert.Equal(t, bob.Agent, tk.Assignee)
		assert.Empty(t, s.Auctions, "settled auctions are removed")
	}))
}

func TestAuctionTieBreaksOnEarlierBid(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	bob := register(t, a, "bob")
	task := createTask(t, a, alice, map[string]any{"title": "tied"})

	announce(t, a, alice, task.ID)
	bid(t, a, bob, task.ID, 0.7)
	bid(t, a, alice, task.ID, 0.7)

	advance(t, a, time.Second)
	require.NoError(t, a.Inspect(context.Background(), func(s *state.State) {
		assert.Equal(t, bob.Agent, s.Tasks[task.ID].Assignee, "earlier bid wins the tie")
	}))
}

func TestAuctionNoBidsReopensTask(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	task := createTask(t, a, alice, map[string]any{"title": "unwanted"})

	announce(t, a, alice, task.ID)
	advance(t, a, time.Second)

	require.NoError(t, a.Inspect(context.Background(), func(s *state.State) {
		assert.Equal(t, state.TaskOpen, s.Tasks[task.ID].Status)
		assert.Empty(t, s.Tasks[task.ID].Assignee)
	}))
}

func TestAuctionRebidReplacesScore(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	bob := register(t, a, "bob")
	task := createTask(t, a, alice, map[string]any{"title": "rebid"})

	announce(t, a, alice, task.ID)
	bid(t, a, alice, task.ID, 0.9)
	bid(t, a, bob, task.ID, 0.5)
	bid(t, a, alice, task.ID, 0.1) // alice reconsiders

	advance(t, a, time.Second)
	require.NoError(t, a.Inspect(context.Background(), func(s *state.State) {
		assert.Equal(t, bob.Agent, s.Tasks[task.ID].Assignee)
	}))
}

func TestAuctionScoreClamped(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	task := createTask(t, a, alice, map[string]any{"title": "clamp"})

	announce(t, a, alice, task.ID)
	resp := submit(t, a, alice, wire.TypeAuctionBid, map[string]any{
		"task_id": task.ID, "score": 3.5,
	})
	require.Nil(t, resp.Error)
	assert.Equal(t, 1.0, resp.Result.(map[string]any)["score"])
}

func TestAuctionPreconditions(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	task := createTask(t, a, alice, map[string]any{"title": "busy"})
	require.Nil(t, submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": task.ID, "agent": alice.Agent,
	}).Error)

	// An assigned task cannot be auctioned.
	resp := submit(t, a, alice, wire.TypeAuctionAnnounce, map[string]any{"task_id": task.ID})
	assert.Equal(t, wire.CodePrecondition, errCode(resp))

	// Bidding without an auction fails.
	resp = submit(t, a, alice, wire.TypeAuctionBid, map[string]any{"task_id": task.ID, "score": 1})
	assert.Equal(t, wire.CodePrecondition, errCode(resp))

	resp = submit(t, a, alice, wire.TypeAuctionBid, map[string]any{"task_id": "task-none", "score": 1})
	assert.Equal(t, wire.CodeNotFound, errCode(resp))
}

func TestAuctionDoubleAnnounceRejected(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	task := createTask(t, a, alice, map[string]any{"title": "once"})

	announce(t, a, alice, task.ID)
	resp := submit(t, a, alice, wire.TypeAuctionAnnounce, map[string]any{"task_id": task.ID})
	assert.Equal(t, wire.CodePrecondition, errCode(resp))
}

func TestOrchestratorExplicitAwardClosesAuction(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	bob := register(t, a, "bob")
	task := createTask(t, a, alice, map[string]any{"title": "override"})
	require.Nil(t, submit(t, a, alice, wire.TypeElect, nil).Error)

	announce(t, a, alice, task.ID)
	bid(t, a, bob, task.ID, 0.2)

	// A self-claim during the auction is rejected.
	resp := submit(t, a, bob, wire.TypeTaskAssign, map[string]any{
		"task_id": task.ID, "agent": bob.Agent,
	})
	assert.Equal(t, wire.CodePrecondition, errCode(resp))

	// The orchestrator may award directly, ignoring scores.
	resp = submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": task.ID, "agent": bob.Agent, "epoch": 1,
	})
	require.Nil(t, resp.Error)
	require.NoError(t, a.Inspect(context.Background(), func(s *state.State) {
		assert.Equal(t, bob.Agent, s.Tasks[task.ID].Assignee)
		assert.Empty(t, s.Auctions)
	}))
}
