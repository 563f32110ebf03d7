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

func startVote(t *testing.T, a *Actor, c Caller, params map[string]any) state.Vote {
	t.Helper()
	resp := submit(t, a, c, wire.TypeVoteStart, params)
	require.Nil(t, resp.Error, "vote_start: %+v", resp.Error)
	return resp.Result.(state.Vote)
}

func TestVotePassesAtDeadline(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	bob := register(t, a, "bob")
	register(t, a, "carol")

	vote := startVote(t, a, alice, map[string]any{
		"kind": "force_merge", "subject": "merge the release branch",
		"quorum": 2, "duration_ms": 50,
	})
	require.Nil(t, submit(t, a, alice, wire.TypeVoteCast, map[string]any{
		"vote_id": vote.ID, "choice": "yes",
	}).Error)
	require.Nil(t, submit(t, a, bob, wire.TypeVoteCast, map[string]any{
		"vote_id": vote.ID, "choice": "yes",
	}).Error)

	advance(t, a, time.Second)
	require.NoError(t, a.Inspect(context.Background(), func(s *state.State) {
		v := s.Votes[vote.ID]
		assert.True(t, v.Closed)
		assert.True(t, v.Passed)
	}))
}

func TestVoteFailsBelowQuorum(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	register(t, a, "bob")
	register(t, a, "carol")

	vote := startVote(t, a, alice, map[string]any{
		"kind": "wipe_cache", "subject": "clear the build cache",
		"quorum": 3, "duration_ms": 50,
	})
	require.Nil(t, submit(t, a, alice, wire.TypeVoteCast, map[string]any{
		"vote_id": vote.ID, "choice": "yes",
	}).Error)

	advance(t, a, time.Second)
	require.NoError(t, a.Inspect(context.Background(), func(s *state.State) {
		v := s.Votes[vote.ID]
		assert.True(t, v.Closed)
		assert.False(t, v.Passed, "one ballot of three is below quorum")
	}))
}

func TestVoteClosesEarlyWhenAllVoted(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	bob := register(t, a, "bob")

	vote := startVote(t, a, alice, map[string]any{
		"kind": "rollback", "subject": "revert deploy 42", "duration_ms": 60_000,
	})
	require.Nil(t, submit(t, a, alice, wire.TypeVoteCast, map[string]any{
		"vote_id": vote.ID, "choice": "yes",
	}).Error)

	resp := submit(t, a, bob, wire.TypeVoteCast, map[string]any{
		"vote_id": vote.ID, "choice": "no",
	})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]any)
	assert.Equal(t, true, result["closed"], "everyone voted, nothing can change")
	assert.Equal(t, true, result["passed"], "1 yes of 2 decisive meets the 0.5 default threshold")
}

func TestVoteAbstentionsDoNotCountTowardQuorum(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	bob := register(t, a, "bob")

	vote := startVote(t, a, alice, map[string]any{
		"kind": "force_merge", "subject": "merge anyway",
		"quorum": 2, "duration_ms": 60_000,
	})
	require.Nil(t, submit(t, a, alice, wire.TypeVoteCast, map[string]any{
		"vote_id": vote.ID, "choice": "yes",
	}).Error)
	resp := submit(t, a, bob, wire.TypeVoteCast, map[string]any{
		"vote_id": vote.ID, "choice": "abstain",
	})
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]any)
	assert.Equal(t, true, result["closed"], "everyone voted")
	assert.Equal(t, false, result["passed"], "one decisive ballot is below quorum 2")
}

func TestVoteThreshold(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	bob := register(t, a, "bob")
	carol := register(t, a, "carol")

	vote := startVote(t, a, alice, map[string]any{
		"kind": "risky", "subject": "drop the table", "threshold": 0.75, "duration_ms": 50,
	})
	for _, c := range []Caller{alice, bob} {
		require.Nil(t, submit(t, a, c, wire.TypeVoteCast, map[string]any{
			"vote_id": vote.ID, "choice": "yes",
		}).Error)
	}
	require.Nil(t, submit(t, a, carol, wire.TypeVoteCast, map[string]any{
		"vote_id": vote.ID, "choice": "no",
	}).Error)

	require.NoError(t, a.Inspect(context.Background(), func(s *state.State) {
		v := s.Votes[vote.ID]
		assert.True(t, v.Closed)
		assert.False(t, v.Passed, "2/3 yes is under the 0.75 threshold")
	}))
}

func TestVoteRecastReplacesBallot(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	register(t, a, "bob")

	vote := startVote(t, a, alice, map[string]any{
		"kind": "toggle", "subject": "feature flag", "duration_ms": 60_000,
	})
	require.Nil(t, submit(t, a, alice, wire.TypeVoteCast, map[string]any{
		"vote_id": vote.ID, "choice": "no",
	}).Error)
	require.Nil(t, submit(t, a, alice, wire.TypeVoteCast, map[string]any{
		"vote_id": vote.ID, "choice": "yes",
	}).Error)

	require.NoError(t, a.Inspect(context.Background(), func(s *state.State) {
		v := s.Votes[vote.ID]
		require.Len(t, v.Ballots, 1)
		assert.Equal(t, "yes", v.Ballots[alice.Agent].Choice)
	}))
}

func TestVoteValidation(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")

	resp := submit(t, a, alice, wire.TypeVoteStart, map[string]any{"kind": "x"})
	assert.Equal(t, wire.CodeInvalidRequest, errCode(resp), "subject is required")

	vote := startVote(t, a, alice, map[string]any{
		"kind": "ok", "subject": "fine", "duration_ms": 60_000,
	})
	resp = submit(t, a, alice, wire.TypeVoteCast, map[string]any{
		"vote_id": vote.ID, "choice": "maybe",
	})
	assert.Equal(t, wire.CodeInvalidRequest, errCode(resp))

	resp = submit(t, a, alice, wire.TypeVoteCast, map[string]any{
		"vote_id": "vote-none", "choice": "yes",
	})
	assert.Equal(t, wire.CodeNotFound, errCode(resp))
}

func TestVoteGatedStop(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	bob := register(t, a, "bob")

	vote := startVote(t, a, alice, map[string]any{
		"kind": "emergency_stop", "subject": "halt the swarm", "duration_ms": 60_000,
	})

	// The vote is still open, so the tagged stop is refused.
	resp := submit(t, a, alice, wire.TypeStop, map[string]any{
		"reason": "halting", "vote_id": vote.ID,
	})
	assert.Equal(t, wire.CodePrecondition, errCode(resp))

	resp = submit(t, a, alice, wire.TypeStop, map[string]any{
		"reason": "halting", "vote_id": "vote-none",
	})
	assert.Equal(t, wire.CodeNotFound, errCode(resp))

	for _, c := range []Caller{alice, bob} {
		require.Nil(t, submit(t, a, c, wire.TypeVoteCast, map[string]any{
			"vote_id": vote.ID, "choice": "yes",
		}).Error)
	}
	resp = submit(t, a, alice, wire.TypeStop, map[string]any{
		"reason": "halting", "vote_id": vote.ID,
	})
	require.Nil(t, resp.Error)
	require.NoError(t, a.Inspect(context.Background(), func(s *state.State) {
		assert.True(t, s.Stop.Stopped)
	}))
}

func TestClosedVoteRejectsBallots(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	register(t, a, "bob")

	vote := startVote(t, a, alice, map[string]any{
		"kind": "late", "subject": "too slow", "duration_ms": 50,
	})
	advance(t, a, time.Second)

	resp := submit(t, a, alice, wire.TypeVoteCast, map[string]any{
		"vote_id": vote.ID, "choice": "yes",
	})
	assert.Equal(t, wire.CodePrecondition, errCode(resp))
}
