package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/quantdao/ledgerd/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAddr(i int) string {
	return fmt.Sprintf("0x%040x", i+1)
}

// ---------------------------------------------------------------------------
// In-memory store fakes. List methods return newest-first to match the
// Postgres stores' ordering.
// ---------------------------------------------------------------------------

type fakeProposalStore struct {
	rows      map[uint64]domain.Proposal
	upsertErr error
}

func newFakeProposalStore() *fakeProposalStore {
	return &fakeProposalStore{rows: make(map[uint64]domain.Proposal)}
}

func (s *fakeProposalStore) Upsert(_ context.Context, p domain.Proposal) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.rows[p.ID] = p
	return nil
}

func (s *fakeProposalStore) GetByID(_ context.Context, id uint64) (domain.Proposal, error) {
	p, ok := s.rows[id]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakeProposalStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Proposal, error) {
	out := make([]domain.Proposal, 0, len(s.rows))
	for _, p := range s.rows {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *fakeProposalStore) Count(_ context.Context) (int64, error) {
	return int64(len(s.rows)), nil
}

type fakeAccountStore struct {
	rows map[string]domain.VotingAccount
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{rows: make(map[string]domain.VotingAccount)}
}

func (s *fakeAccountStore) Upsert(_ context.Context, acct domain.VotingAccount) error {
	s.rows[acct.Address] = acct
	return nil
}

func (s *fakeAccountStore) GetByAddress(_ context.Context, addr string) (domain.VotingAccount, error) {
	acct, ok := s.rows[addr]
	if !ok {
		return domain.VotingAccount{}, domain.ErrNotFound
	}
	return acct, nil
}

func (s *fakeAccountStore) List(_ context.Context) ([]domain.VotingAccount, error) {
	out := make([]domain.VotingAccount, 0, len(s.rows))
	for _, acct := range s.rows {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

type fakeAgentStore struct {
	rows map[uint64]domain.Agent
}

func newFakeAgentStore() *fakeAgentStore {
	return &fakeAgentStore{rows: make(map[uint64]domain.Agent)}
}

func (s *fakeAgentStore) Upsert(_ context.Context, agent domain.Agent) error {
	s.rows[agent.ID] = agent
	return nil
}

func (s *fakeAgentStore) GetByID(_ context.Context, id uint64) (domain.Agent, error) {
	a, ok := s.rows[id]
	if !ok {
		return domain.Agent{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *fakeAgentStore) List(_ context.Context) ([]domain.Agent, error) {
	out := make([]domain.Agent, 0, len(s.rows))
	for _, a := range s.rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeFundStateStore struct {
	state domain.FundState
	saved bool
}

func (s *fakeFundStateStore) Save(_ context.Context, state domain.FundState) error {
	s.state = state
	s.saved = true
	return nil
}

func (s *fakeFundStateStore) Load(_ context.Context) (domain.FundState, error) {
	if !s.saved {
		return domain.FundState{}, domain.ErrNotFound
	}
	return s.state, nil
}

type fakeConsumedAuthStore struct {
	ids []uint64
}

func (s *fakeConsumedAuthStore) Mark(_ context.Context, proposalID uint64) error {
	s.ids = append(s.ids, proposalID)
	return nil
}

func (s *fakeConsumedAuthStore) List(_ context.Context) ([]uint64, error) {
	return append([]uint64(nil), s.ids...), nil
}

type fakePositionStore struct {
	rows map[string]domain.InvestorPosition
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{rows: make(map[string]domain.InvestorPosition)}
}

func (s *fakePositionStore) Upsert(_ context.Context, pos domain.InvestorPosition) error {
	s.rows[pos.Address] = pos
	return nil
}

func (s *fakePositionStore) GetByAddress(_ context.Context, addr string) (domain.InvestorPosition, error) {
	p, ok := s.rows[addr]
	if !ok {
		return domain.InvestorPosition{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakePositionStore) List(_ context.Context) ([]domain.InvestorPosition, error) {
	out := make([]domain.InvestorPosition, 0, len(s.rows))
	for _, p := range s.rows {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *fakePositionStore) Delete(_ context.Context, addr string) error {
	delete(s.rows, addr)
	return nil
}

type fakeRegisteredAgentStore struct {
	rows  map[string]domain.RegisteredAgent
	snaps map[string][]domain.PerformanceSnapshot
	order []string
}

func newFakeRegisteredAgentStore() *fakeRegisteredAgentStore {
	return &fakeRegisteredAgentStore{
		rows:  make(map[string]domain.RegisteredAgent),
		snaps: make(map[string][]domain.PerformanceSnapshot),
	}
}

func (s *fakeRegisteredAgentStore) Upsert(_ context.Context, agent domain.RegisteredAgent) error {
	if _, ok := s.rows[agent.Address]; !ok {
		s.order = append(s.order, agent.Address)
	}
	s.rows[agent.Address] = agent
	return nil
}

func (s *fakeRegisteredAgentStore) GetByAddress(_ context.Context, addr string) (domain.RegisteredAgent, error) {
	a, ok := s.rows[addr]
	if !ok {
		return domain.RegisteredAgent{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *fakeRegisteredAgentStore) List(_ context.Context) ([]domain.RegisteredAgent, error) {
	out := make([]domain.RegisteredAgent, 0, len(s.order))
	for _, addr := range s.order {
		out = append(out, s.rows[addr])
	}
	return out, nil
}

func (s *fakeRegisteredAgentStore) AppendSnapshot(_ context.Context, addr string, snap domain.PerformanceSnapshot) error {
	s.snaps[addr] = append(s.snaps[addr], snap)
	return nil
}

func (s *fakeRegisteredAgentStore) ListSnapshots(_ context.Context, addr string, _ domain.ListOpts) ([]domain.PerformanceSnapshot, error) {
	stored := s.snaps[addr]
	out := make([]domain.PerformanceSnapshot, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}

type fakeBridgeTxStore struct {
	rows  map[string]domain.BridgeTransaction
	order []string
}

func newFakeBridgeTxStore() *fakeBridgeTxStore {
	return &fakeBridgeTxStore{rows: make(map[string]domain.BridgeTransaction)}
}

func (s *fakeBridgeTxStore) Upsert(_ context.Context, tx domain.BridgeTransaction) error {
	if _, ok := s.rows[tx.Hash]; !ok {
		s.order = append(s.order, tx.Hash)
	}
	s.rows[tx.Hash] = tx
	return nil
}

func (s *fakeBridgeTxStore) GetByHash(_ context.Context, hash string) (domain.BridgeTransaction, error) {
	tx, ok := s.rows[hash]
	if !ok {
		return domain.BridgeTransaction{}, domain.ErrNotFound
	}
	return tx, nil
}

func (s *fakeBridgeTxStore) List(_ context.Context, _ domain.ListOpts) ([]domain.BridgeTransaction, error) {
	out := make([]domain.BridgeTransaction, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.rows[s.order[i]])
	}
	return out, nil
}

func (s *fakeBridgeTxStore) ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.BridgeTransaction, error) {
	all, _ := s.List(ctx, opts)
	out := all[:0]
	for _, tx := range all {
		if !tx.IsCompleted {
			out = append(out, tx)
		}
	}
	return out, nil
}

type fakeBridgeStateStore struct {
	state domain.BridgeState
	saved bool
}

func (s *fakeBridgeStateStore) Save(_ context.Context, state domain.BridgeState) error {
	s.state = state
	s.saved = true
	return nil
}

func (s *fakeBridgeStateStore) Load(_ context.Context) (domain.BridgeState, error) {
	if !s.saved {
		return domain.BridgeState{}, domain.ErrNotFound
	}
	return s.state, nil
}

// ---------------------------------------------------------------------------
// Signal bus and audit fakes.
// ---------------------------------------------------------------------------

type fakeBus struct {
	published  map[string][][]byte
	streams    map[string][][]byte
	publishErr error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		streams:   make(map[string][][]byte),
	}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(_ context.Context, stream string, _ string, count int) ([]domain.StreamMessage, error) {
	msgs := b.streams[stream]
	if count > 0 && count < len(msgs) {
		msgs = msgs[:count]
	}
	out := make([]domain.StreamMessage, 0, len(msgs))
	for i, payload := range msgs {
		out = append(out, domain.StreamMessage{ID: fmt.Sprintf("%d-0", i), Payload: payload})
	}
	return out, nil
}

type fakeAudit struct {
	entries []domain.AuditEntry
}

func (a *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (a *fakeAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return append([]domain.AuditEntry(nil), a.entries...), nil
}

func (a *fakeAudit) events() []string {
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Event)
	}
	return out
}
