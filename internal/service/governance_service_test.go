package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdao/ledgerd/internal/domain"
	"github.com/quantdao/ledgerd/internal/governance"
)

type serviceClock struct {
	t time.Time
}

func (c *serviceClock) Now() time.Time { return c.t }

func (c *serviceClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type govFixture struct {
	svc       *GovernanceService
	clock     *serviceClock
	proposals *fakeProposalStore
	accounts  *fakeAccountStore
	bus       *fakeBus
	audit     *fakeAudit
}

func newGovFixture(t *testing.T) *govFixture {
	t.Helper()

	clock := &serviceClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	engine, err := governance.New(governance.Config{
		Admin:             testAddr(0),
		ProposalThreshold: 1,
		VotingPeriod:      72 * time.Hour,
		QuorumPercent:     10,
	}, clock.Now)
	require.NoError(t, err)

	f := &govFixture{
		clock:     clock,
		proposals: newFakeProposalStore(),
		accounts:  newFakeAccountStore(),
		bus:       newFakeBus(),
		audit:     &fakeAudit{},
	}
	f.svc = NewGovernanceService(engine, f.proposals, f.accounts, f.bus, f.audit, discardLogger())
	return f
}

func TestGovernanceServicePersistsAndPublishes(t *testing.T) {
	f := newGovFixture(t)
	ctx := context.Background()

	acct, err := f.svc.GrantVotingPower(ctx, testAddr(0), testAddr(1), 100)
	require.NoError(t, err)

	// Account row written through.
	stored, err := f.accounts.GetByAddress(ctx, acct.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), stored.Power)

	prop, err := f.svc.Propose(ctx, acct.Address, "enable momentum agent", domain.ProposalEnableAgent, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), prop.ID)

	_, err = f.svc.CastVote(ctx, acct.Address, prop.ID, true)
	require.NoError(t, err)

	// Each successful operation upserted the proposal row.
	row, err := f.proposals.GetByID(ctx, prop.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), row.ForVotes)

	// Events went to the governance channel and its durable stream.
	assert.Len(t, f.bus.published[domain.ChannelGovernance], 3)
	assert.Len(t, f.bus.streams["events:"+domain.ChannelGovernance], 3)

	var ev domain.Event
	require.NoError(t, json.Unmarshal(f.bus.published[domain.ChannelGovernance][0], &ev))
	assert.Equal(t, domain.EventVotingPowerGranted, ev.Name)

	assert.Equal(t, []string{
		"governance.power_granted",
		"governance.proposal_created",
	}, f.audit.events())
}

func TestGovernanceServiceExecuteMarksProposal(t *testing.T) {
	f := newGovFixture(t)
	ctx := context.Background()

	acct, err := f.svc.GrantVotingPower(ctx, testAddr(0), testAddr(1), 100)
	require.NoError(t, err)
	prop, err := f.svc.Propose(ctx, acct.Address, "halt deposits", domain.ProposalEmergencyStop, nil)
	require.NoError(t, err)
	_, err = f.svc.CastVote(ctx, acct.Address, prop.ID, true)
	require.NoError(t, err)

	// Voting still open.
	_, err = f.svc.Execute(ctx, prop.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	f.clock.Advance(73 * time.Hour)

	auth, err := f.svc.Execute(ctx, prop.ID)
	require.NoError(t, err)
	assert.Equal(t, prop.ID, auth.ProposalID)
	assert.Equal(t, domain.ProposalEmergencyStop, auth.Kind)

	row, err := f.proposals.GetByID(ctx, prop.ID)
	require.NoError(t, err)
	assert.True(t, row.Executed)

	assert.Contains(t, f.audit.events(), "governance.proposal_executed")
}

func TestGovernanceServicePersistFailurePropagates(t *testing.T) {
	f := newGovFixture(t)
	ctx := context.Background()

	acct, err := f.svc.GrantVotingPower(ctx, testAddr(0), testAddr(1), 50)
	require.NoError(t, err)

	f.proposals.upsertErr = errors.New("connection refused")
	_, err = f.svc.Propose(ctx, acct.Address, "doomed", domain.ProposalParameterChange, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist proposal")
}

func TestGovernanceServicePublishFailureIsNotFatal(t *testing.T) {
	f := newGovFixture(t)
	ctx := context.Background()
	f.bus.publishErr = errors.New("redis down")

	acct, err := f.svc.GrantVotingPower(ctx, testAddr(0), testAddr(1), 50)
	require.NoError(t, err)

	// State change survived the bus outage.
	stored, err := f.accounts.GetByAddress(ctx, acct.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), stored.Power)
}
