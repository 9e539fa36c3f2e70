package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdao/ledgerd/internal/bridge"
	"github.com/quantdao/ledgerd/internal/domain"
	"github.com/quantdao/ledgerd/internal/governance"
	"github.com/quantdao/ledgerd/internal/registry"
	"github.com/quantdao/ledgerd/internal/treasury"
)

type hydratorFixture struct {
	h           *Hydrator
	proposals   *fakeProposalStore
	accounts    *fakeAccountStore
	agents      *fakeAgentStore
	fund        *fakeFundStateStore
	positions   *fakePositionStore
	consumed    *fakeConsumedAuthStore
	regAgents   *fakeRegisteredAgentStore
	bridgeTxs   *fakeBridgeTxStore
	bridgeState *fakeBridgeStateStore
}

func newHydratorFixture() *hydratorFixture {
	f := &hydratorFixture{
		proposals:   newFakeProposalStore(),
		accounts:    newFakeAccountStore(),
		agents:      newFakeAgentStore(),
		fund:        &fakeFundStateStore{},
		positions:   newFakePositionStore(),
		consumed:    &fakeConsumedAuthStore{},
		regAgents:   newFakeRegisteredAgentStore(),
		bridgeTxs:   newFakeBridgeTxStore(),
		bridgeState: &fakeBridgeStateStore{},
	}
	f.h = NewHydrator(
		f.proposals, f.accounts,
		f.agents, f.fund, f.positions, f.consumed,
		f.regAgents,
		f.bridgeTxs, f.bridgeState,
		discardLogger(),
	)
	return f
}

func newHydratorGovEngine(t *testing.T) *governance.Engine {
	t.Helper()
	e, err := governance.New(governance.Config{
		Admin:             testAddr(0),
		ProposalThreshold: 1,
		VotingPeriod:      72 * time.Hour,
		QuorumPercent:     10,
	}, nil)
	require.NoError(t, err)
	return e
}

func TestHydrateGovernanceRebuildsEngine(t *testing.T) {
	f := newHydratorFixture()
	ctx := context.Background()

	require.NoError(t, f.accounts.Upsert(ctx, domain.VotingAccount{Address: testAddr(1), Power: 60}))
	require.NoError(t, f.accounts.Upsert(ctx, domain.VotingAccount{Address: testAddr(2), Power: 40}))

	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, f.proposals.Upsert(ctx, domain.Proposal{
			ID:        id,
			Proposer:  testAddr(1),
			Kind:      domain.ProposalParameterChange,
			StartTime: base,
			EndTime:   base.Add(72 * time.Hour),
		}))
	}

	engine := newHydratorGovEngine(t)
	require.NoError(t, f.h.HydrateGovernance(ctx, engine))

	assert.Equal(t, uint64(100), engine.TotalVotingPower())
	assert.Equal(t, uint64(60), engine.Account(testAddr(1)).Power)

	props := engine.Proposals()
	require.Len(t, props, 3)
	// Store lists newest first; the engine must end up in id order.
	for i, p := range props {
		assert.Equal(t, uint64(i+1), p.ID)
	}

	// The next proposal id continues after the restored ones.
	snap := engine.Snapshot()
	assert.Equal(t, uint64(4), snap.NextProposalID)
}

func TestHydrateGovernanceFreshDeployment(t *testing.T) {
	f := newHydratorFixture()
	engine := newHydratorGovEngine(t)
	before := engine.Snapshot()

	require.NoError(t, f.h.HydrateGovernance(context.Background(), engine))
	assert.Equal(t, before, engine.Snapshot())
}

func TestHydrateTreasuryLoadsFundAndPositions(t *testing.T) {
	f := newHydratorFixture()
	ctx := context.Background()

	require.NoError(t, f.fund.Save(ctx, domain.FundState{
		TotalAssets: big.NewInt(5_000_000),
		TotalShares: big.NewInt(4_000_000),
		FeeBaseline: big.NewInt(5_000_000),
	}))
	require.NoError(t, f.positions.Upsert(ctx, domain.InvestorPosition{
		Address:         testAddr(3),
		Shares:          big.NewInt(4_000_000),
		DepositedAmount: big.NewInt(5_000_000),
		DepositTime:     time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, f.consumed.Mark(ctx, 7))

	gov := newHydratorGovEngine(t)
	engine, err := treasury.New(treasury.Config{
		Admin:             testAddr(0),
		Reporter:          testAddr(0),
		ManagementFeeBps:  200,
		PerformanceFeeBps: 2000,
	}, gov, nil)
	require.NoError(t, err)

	require.NoError(t, f.h.HydrateTreasury(ctx, engine))

	snap := engine.Snapshot()
	assert.Equal(t, 0, snap.Fund.TotalAssets.Cmp(big.NewInt(5_000_000)))
	assert.Equal(t, 0, snap.Fund.TotalShares.Cmp(big.NewInt(4_000_000)))
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, []uint64{7}, snap.ConsumedAuths)
}

func TestHydrateRegistryRestoresSnapshotOrder(t *testing.T) {
	f := newHydratorFixture()
	ctx := context.Background()

	addr := testAddr(4)
	require.NoError(t, f.regAgents.Upsert(ctx, domain.RegisteredAgent{
		Address:         addr,
		Name:            "momentum",
		StakedAmount:    big.NewInt(2_000_000),
		ReputationScore: 510,
		RegisteredAt:    time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}))
	base := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.regAgents.AppendSnapshot(ctx, addr, domain.PerformanceSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Pnl:       int64(i * 100),
		}))
	}

	engine, err := registry.New(registry.Config{
		Authority: testAddr(0),
		MinStake:  big.NewInt(1_000_000),
	}, nil)
	require.NoError(t, err)

	require.NoError(t, f.h.HydrateRegistry(ctx, engine))

	snap := engine.Snapshot()
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, addr, snap.Agents[0].Agent.Address)
	require.Len(t, snap.Agents[0].Snapshots, 3)
	// Report order, oldest first.
	assert.True(t, snap.Agents[0].Snapshots[0].Timestamp.Before(snap.Agents[0].Snapshots[2].Timestamp))
}

func TestHydrateBridgeRestoresStateAndTxs(t *testing.T) {
	f := newHydratorFixture()
	ctx := context.Background()

	validators := []string{testAddr(5), testAddr(6), testAddr(7)}
	require.NoError(t, f.bridgeState.Save(ctx, domain.BridgeState{
		Validators:           validators,
		RequiredAttestations: 2,
		FeeBps:               10,
		Nonce:                2,
		TotalLocked:          big.NewInt(300),
		TotalReleased:        big.NewInt(0),
	}))

	base := time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		require.NoError(t, f.bridgeTxs.Upsert(ctx, domain.BridgeTransaction{
			Hash:         string(rune('a'+i)) + "-hash",
			Sender:       testAddr(8),
			Recipient:    testAddr(9),
			Amount:       big.NewInt(int64(100 + i)),
			Fee:          big.NewInt(1),
			SourceDomain: 1,
			DestDomain:   2,
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			Nonce:        uint64(i),
		}))
	}

	engine, err := bridge.New(bridge.Config{
		Admin:                testAddr(0),
		SourceDomain:         1,
		FeeBps:               10,
		RequiredAttestations: 2,
		Validators:           validators,
	}, nil)
	require.NoError(t, err)

	require.NoError(t, f.h.HydrateBridge(ctx, engine))

	snap := engine.Snapshot()
	assert.Equal(t, uint64(2), snap.State.Nonce)
	assert.Equal(t, uint64(2), snap.State.RequiredAttestations)
	require.Len(t, snap.Transactions, 2)
	// Initiation order, oldest first.
	assert.Equal(t, uint64(0), snap.Transactions[0].Nonce)
	assert.Equal(t, uint64(1), snap.Transactions[1].Nonce)
}
