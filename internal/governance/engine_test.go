package governance

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdao/ledgerd/internal/domain"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testAddr(i int) string {
	return fmt.Sprintf("0x%040x", i+1)
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	e, err := New(Config{
		Admin:             testAddr(0),
		ProposalThreshold: 1,
		VotingPeriod:      3 * 24 * time.Hour,
		QuorumPercent:     10,
	}, clock.Now)
	require.NoError(t, err)
	return e, clock
}

func TestGrantVotingPowerConservation(t *testing.T) {
	e, _ := newTestEngine(t)
	admin := testAddr(0)

	accounts := []struct {
		addr   string
		amount uint64
	}{
		{testAddr(1), 60},
		{testAddr(2), 40},
		{testAddr(1), 15},
		{testAddr(3), 5},
	}

	var want uint64
	for _, a := range accounts {
		_, _, err := e.GrantVotingPower(admin, a.addr, a.amount)
		require.NoError(t, err)
		want += a.amount
		assert.Equal(t, want, e.TotalVotingPower())
	}

	assert.Equal(t, uint64(75), e.Account(testAddr(1)).Power)
	assert.Equal(t, uint64(40), e.Account(testAddr(2)).Power)
}

func TestGrantVotingPowerRequiresAdmin(t *testing.T) {
	e, _ := newTestEngine(t)

	_, _, err := e.GrantVotingPower(testAddr(5), testAddr(1), 10)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, uint64(0), e.TotalVotingPower())
}

func TestProposeRequiresThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	e, err := New(Config{
		Admin:             testAddr(0),
		ProposalThreshold: 100,
		VotingPeriod:      2 * 24 * time.Hour,
		QuorumPercent:     10,
	}, clock.Now)
	require.NoError(t, err)

	admin := testAddr(0)
	_, _, err = e.GrantVotingPower(admin, testAddr(1), 99)
	require.NoError(t, err)

	_, _, err = e.Propose(testAddr(1), "raise allocation", domain.ProposalAdjustAllocation, nil)
	assert.ErrorIs(t, err, domain.ErrInsufficient)

	_, _, err = e.GrantVotingPower(admin, testAddr(1), 1)
	require.NoError(t, err)

	p, events, err := e.Propose(testAddr(1), "raise allocation", domain.ProposalAdjustAllocation, []byte(`{"agent":1}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.ID)
	assert.Equal(t, p.StartTime.Add(2*24*time.Hour), p.EndTime)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventProposalCreated, events[0].Name)
}

// Scenario: two voters with power 60 and 40 at 10% quorum. The for side
// wins 60-40 with full participation, so execute succeeds after the window.
func TestExecuteQuorumAndMajority(t *testing.T) {
	e, clock := newTestEngine(t)
	admin := testAddr(0)

	_, _, err := e.GrantVotingPower(admin, testAddr(1), 60)
	require.NoError(t, err)
	_, _, err = e.GrantVotingPower(admin, testAddr(2), 40)
	require.NoError(t, err)

	p, _, err := e.Propose(testAddr(1), "enable momentum agent", domain.ProposalEnableAgent, nil)
	require.NoError(t, err)

	_, _, err = e.CastVote(testAddr(1), p.ID, true)
	require.NoError(t, err)
	_, _, err = e.CastVote(testAddr(2), p.ID, false)
	require.NoError(t, err)

	// Window still open.
	_, _, err = e.Execute(p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	clock.Advance(3*24*time.Hour + time.Second)

	auth, events, err := e.Execute(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, auth.ProposalID)
	assert.Equal(t, domain.ProposalEnableAgent, auth.Kind)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventProposalExecuted, events[0].Name)

	// Second execute fails and leaves state unchanged.
	_, _, err = e.Execute(p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	got, err := e.Proposal(p.ID)
	require.NoError(t, err)
	assert.True(t, got.Executed)
	assert.False(t, got.Canceled)
}

func TestExecuteFailsWithoutQuorum(t *testing.T) {
	e, clock := newTestEngine(t)
	admin := testAddr(0)

	// 1000 total power but only 50 participates: 50*100 < 1000*10.
	_, _, err := e.GrantVotingPower(admin, testAddr(1), 50)
	require.NoError(t, err)
	_, _, err = e.GrantVotingPower(admin, testAddr(2), 950)
	require.NoError(t, err)

	p, _, err := e.Propose(testAddr(1), "adjust fee", domain.ProposalParameterChange, nil)
	require.NoError(t, err)
	_, _, err = e.CastVote(testAddr(1), p.ID, true)
	require.NoError(t, err)

	clock.Advance(4 * 24 * time.Hour)

	_, _, err = e.Execute(p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestExecuteFailsOnTie(t *testing.T) {
	e, clock := newTestEngine(t)
	admin := testAddr(0)

	_, _, err := e.GrantVotingPower(admin, testAddr(1), 50)
	require.NoError(t, err)
	_, _, err = e.GrantVotingPower(admin, testAddr(2), 50)
	require.NoError(t, err)

	p, _, err := e.Propose(testAddr(1), "withdraw funds", domain.ProposalWithdrawFunds, nil)
	require.NoError(t, err)
	_, _, err = e.CastVote(testAddr(1), p.ID, true)
	require.NoError(t, err)
	_, _, err = e.CastVote(testAddr(2), p.ID, false)
	require.NoError(t, err)

	clock.Advance(4 * 24 * time.Hour)

	_, _, err = e.Execute(p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCastVoteRules(t *testing.T) {
	e, clock := newTestEngine(t)
	admin := testAddr(0)

	_, _, err := e.GrantVotingPower(admin, testAddr(1), 10)
	require.NoError(t, err)

	p, _, err := e.Propose(testAddr(1), "stop trading", domain.ProposalEmergencyStop, nil)
	require.NoError(t, err)

	// Unknown proposal.
	_, _, err = e.CastVote(testAddr(1), 99, true)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Zero power voter.
	_, _, err = e.CastVote(testAddr(7), p.ID, true)
	assert.ErrorIs(t, err, domain.ErrInsufficient)

	// First vote lands, second is rejected.
	got, _, err := e.CastVote(testAddr(1), p.ID, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.ForVotes)

	_, _, err = e.CastVote(testAddr(1), p.ID, false)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	got, err = e.Proposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.ForVotes)
	assert.Equal(t, uint64(0), got.AgainstVotes)
	assert.Len(t, got.Voters, 1)

	// After the window closes, votes are rejected.
	clock.Advance(8 * 24 * time.Hour)
	_, _, err = e.CastVote(testAddr(1), p.ID, true)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancelRules(t *testing.T) {
	e, clock := newTestEngine(t)
	admin := testAddr(0)

	_, _, err := e.GrantVotingPower(admin, testAddr(1), 10)
	require.NoError(t, err)
	_, _, err = e.GrantVotingPower(admin, testAddr(2), 10)
	require.NoError(t, err)

	p, _, err := e.Propose(testAddr(1), "disable agent", domain.ProposalDisableAgent, nil)
	require.NoError(t, err)

	// A stranger cannot cancel.
	_, _, err = e.Cancel(testAddr(2), p.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// Proposer cancels inside the window.
	got, _, err := e.Cancel(testAddr(1), p.ID)
	require.NoError(t, err)
	assert.True(t, got.Canceled)
	assert.False(t, got.Executed)

	// Canceled proposals reject votes, execution, and re-cancellation.
	_, _, err = e.CastVote(testAddr(2), p.ID, true)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	clock.Advance(4 * 24 * time.Hour)
	_, _, err = e.Execute(p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, _, err = e.Cancel(testAddr(1), p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancelAfterWindowFails(t *testing.T) {
	e, clock := newTestEngine(t)
	admin := testAddr(0)

	_, _, err := e.GrantVotingPower(admin, testAddr(1), 10)
	require.NoError(t, err)
	p, _, err := e.Propose(testAddr(1), "late cancel", domain.ProposalParameterChange, nil)
	require.NoError(t, err)

	clock.Advance(4 * 24 * time.Hour)
	_, _, err = e.Cancel(testAddr(1), p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSettersValidateBounds(t *testing.T) {
	e, _ := newTestEngine(t)
	admin := testAddr(0)

	assert.ErrorIs(t, e.SetVotingPeriod(admin, 12*time.Hour), domain.ErrOutOfBounds)
	assert.ErrorIs(t, e.SetVotingPeriod(admin, 8*24*time.Hour), domain.ErrOutOfBounds)
	assert.NoError(t, e.SetVotingPeriod(admin, 5*24*time.Hour))

	assert.ErrorIs(t, e.SetQuorumPercent(admin, 0), domain.ErrOutOfBounds)
	assert.ErrorIs(t, e.SetQuorumPercent(admin, 101), domain.ErrOutOfBounds)
	assert.NoError(t, e.SetQuorumPercent(admin, 25))

	assert.ErrorIs(t, e.SetVotingPeriod(testAddr(3), 2*24*time.Hour), domain.ErrUnauthorized)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	e, clock := newTestEngine(t)
	admin := testAddr(0)

	_, _, err := e.GrantVotingPower(admin, testAddr(1), 60)
	require.NoError(t, err)
	_, _, err = e.GrantVotingPower(admin, testAddr(2), 40)
	require.NoError(t, err)

	p, _, err := e.Propose(testAddr(1), "snapshot me", domain.ProposalEnableAgent, []byte("x"))
	require.NoError(t, err)
	_, _, err = e.CastVote(testAddr(1), p.ID, true)
	require.NoError(t, err)

	snap := e.Snapshot()

	restored, err := New(Config{
		Admin:             admin,
		ProposalThreshold: 1,
		VotingPeriod:      3 * 24 * time.Hour,
		QuorumPercent:     10,
	}, clock.Now)
	require.NoError(t, err)
	restored.Restore(snap)

	assert.Equal(t, e.TotalVotingPower(), restored.TotalVotingPower())
	assert.Equal(t, e.Proposals(), restored.Proposals())

	// The restored engine continues the same id sequence.
	p2, _, err := restored.Propose(testAddr(2), "next", domain.ProposalParameterChange, nil)
	require.NoError(t, err)
	assert.Equal(t, p.ID+1, p2.ID)
}
