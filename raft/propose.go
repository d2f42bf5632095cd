package raft

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/821684824/raftcore/raft/raftpd"
	"github.com/821684824/raftcore/utils/pd"
)

// ChangeToken is the promise returned by a proposal. It resolves to
// committed once the proposed entry is applied on this member, or to
// lost when leadership is lost before that.
type ChangeToken struct {
	index uint64
	term  uint64

	done      chan struct{}
	committed bool
}

// Wait block until the token resolves or ctx fires. Return whether
// the change committed.
func (t *ChangeToken) Wait(ctx context.Context) (bool, error) {
	select {
	case <-t.done:
		return t.committed, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Index return the log index the change was proposed at.
func (t *ChangeToken) Index() uint64 {
	return t.index
}

// ProposeChangeIfLeader append a client change if this member is
// currently leader. Non-leaders fail with NotLeaderError carrying
// the leader hint.
func (m *Member) ProposeChangeIfLeader(change []byte) (*ChangeToken, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.stopped {
		return nil, ErrStopped
	}
	if m.role != RoleLeader {
		return nil, &NotLeaderError{Hint: m.leaderHint.Get()}
	}

	entry := raftpd.Entry{
		Index: m.wal.LastIndex() + 1,
		Term:  m.term,
		Type:  raftpd.EntryChange,
		Data:  change,
	}
	m.wal.Append([]raftpd.Entry{entry})

	if err := m.persist(); err != nil {
		return nil, err
	}

	log.Debugf("%v [term: %d] propose change at %d", m.id, m.term, entry.Index)

	token := m.registerToken(entry.Index)
	m.wakeAllPeers()
	m.advanceCommit()
	return token, nil
}

// ProposeConfigChangeIfLeader start a reconfiguration towards
// newConfig by appending the joint entry. The simple successor is
// appended automatically once the joint entry commits. The returned
// token resolves when the joint entry commits.
func (m *Member) ProposeConfigChangeIfLeader(newConfig raftpd.Config) (*ChangeToken, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.stopped {
		return nil, ErrStopped
	}
	if m.role != RoleLeader {
		return nil, &NotLeaderError{Hint: m.leaderHint.Get()}
	}
	if m.config.IsJoint() {
		return nil, ErrConfigInProgress
	}

	next := newConfig.Clone()
	joint := raftpd.ComplexConfig{
		Config:    m.config.Config.Clone(),
		NewConfig: &next,
	}
	entry := raftpd.Entry{
		Index: m.wal.LastIndex() + 1,
		Term:  m.term,
		Type:  raftpd.EntryConfig,
		Data:  pd.MustMarshal(&joint),
	}
	m.wal.Append([]raftpd.Entry{entry})
	m.updateEffectiveConfig()
	m.syncPeers()

	if err := m.persist(); err != nil {
		return nil, err
	}

	log.Infof("%v [term: %d] propose joint config at %d", m.id, m.term, entry.Index)

	token := m.registerToken(entry.Index)
	m.wakeAllPeers()
	m.advanceCommit()
	return token, nil
}

// registerToken create a token for the entry appended at index in
// the current term. Called with the mutex held.
func (m *Member) registerToken(index uint64) *ChangeToken {
	token := &ChangeToken{
		index: index,
		term:  m.term,
		done:  make(chan struct{}),
	}
	m.tokens = append(m.tokens, token)
	return token
}

// resolveTokens resolve tokens whose index has committed. The leader
// never truncates its own entries, so a committed index in the
// token's term means the change itself committed. Called with the
// mutex held.
func (m *Member) resolveTokens() {
	commit := m.wal.CommitIndex()
	remaining := m.tokens[:0]
	for _, token := range m.tokens {
		if token.index > commit {
			remaining = append(remaining, token)
			continue
		}
		token.committed = true
		close(token.done)
	}
	m.tokens = remaining
}

// resolveTokensLost resolve every outstanding token as lost. Called
// with the mutex held, on leadership loss and on stop.
func (m *Member) resolveTokensLost() {
	for _, token := range m.tokens {
		token.committed = token.index <= m.wal.CommitIndex()
		close(token.done)
	}
	m.tokens = nil
}
