package raft

import (
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/821684824/raftcore/raft/holder"
	"github.com/821684824/raftcore/raft/peer"
	"github.com/821684824/raftcore/raft/raftpd"
	"github.com/821684824/raftcore/utils"
	"github.com/821684824/raftcore/utils/drain"
	"github.com/821684824/raftcore/utils/pd"
	"github.com/821684824/raftcore/watch"
)

// Member is one replica of the group. All state transitions are
// serialised under a single mutex; blocking calls (RPC sends) happen
// outside it. Member is safe for concurrent use.
type Member struct {
	mutex sync.Mutex

	id         raftpd.MemberID
	netStorage NetworkAndStorage
	machine    *StateMachine

	// durable fields, mirrored in memory and written through
	// netStorage before any reply that depends on them
	term           uint64
	votedFor       raftpd.MemberID
	snapshotState  []byte
	snapshotConfig raftpd.ComplexConfig

	wal *holder.LogHolder

	role       RoleType
	leaderHint *watch.Value[raftpd.MemberID]

	// config is the latest configuration appearing in the log,
	// committed or not; appliedConfig is the one in effect at the
	// applied cursor, which snapshots record.
	config        raftpd.ComplexConfig
	appliedConfig raftpd.ComplexConfig

	// leader bookkeeping, rebuilt on every election win
	nodes  map[raftpd.MemberID]*peer.Node
	wakes  map[raftpd.MemberID]chan struct{}
	tokens []*ChangeToken

	// terms this member won while it has been running, read by the
	// cross-replica invariant check
	ledTerms map[uint64]bool

	electionElapsed        int
	heartbeatElapsed       int
	randomizedElectionTick int

	timer   *utils.Timer
	drainer *drain.Drainer
	stopped bool

	opts Options
}

// MakeMember construct a member from its persistent state and start
// its timers. The machine is restored from the state's snapshot.
func MakeMember(id raftpd.MemberID, netStorage NetworkAndStorage,
	machine Machine, state raftpd.PersistentState, opts Options) *Member {
	opts = opts.withDefaults()

	m := &Member{
		id:         id,
		netStorage: netStorage,
		term:       state.CurrentTerm,
		votedFor:   state.VotedFor,
		role:       RoleFollower,
		leaderHint: watch.NewValue(raftpd.NilMember),
		ledTerms:   make(map[uint64]bool),
		drainer:    drain.New(),
		opts:       opts,
	}
	m.snapshotState = append([]byte(nil), state.SnapshotState...)
	m.snapshotConfig = state.SnapshotConfig.Clone()
	m.appliedConfig = state.SnapshotConfig.Clone()
	m.wal = holder.MakeLogHolder(id, state.SnapshotIndex, state.SnapshotTerm, state.Entries)
	m.machine = makeStateMachine(m, machine, state.SnapshotState, state.SnapshotIndex)
	m.updateEffectiveConfig()
	m.resetElectionTimer()

	log.Infof("%v member starts [term: %d, last: %d, snapshot: %d]",
		id, m.term, m.wal.LastIndex(), m.wal.PrevIndex())

	m.timer = utils.StartTimer(opts.TickMs, m.tick)
	return m
}

// ID return the member's id.
func (m *Member) ID() raftpd.MemberID {
	return m.id
}

// Stop halts the member. In-flight RPCs are canceled and pending
// change tokens resolve as lost.
func (m *Member) Stop() {
	m.mutex.Lock()
	if m.stopped {
		m.mutex.Unlock()
		return
	}
	m.stopped = true
	m.resolveTokensLost()
	m.mutex.Unlock()

	m.timer.Stop()
	m.drainer.Drain()

	log.Infof("%v member stopped", m.id)
}

// GetLeader return the last observed leader, or the nil id.
func (m *Member) GetLeader() raftpd.MemberID {
	return m.leaderHint.Get()
}

// ReadStatus return the current term and whether this member is
// leader.
func (m *Member) ReadStatus() (uint64, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.term, m.role == RoleLeader
}

// GetStateMachine return the adapter over the application machine.
func (m *Member) GetStateMachine() *StateMachine {
	return m.machine
}

func (m *Member) tick(time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.stopped {
		return
	}

	if m.role == RoleLeader {
		m.heartbeatElapsed++
		if m.heartbeatElapsed >= m.opts.HeartbeatTick {
			m.heartbeatElapsed = 0
			m.wakeAllPeers()
		}
		return
	}

	m.electionElapsed++
	if m.electionElapsed >= m.randomizedElectionTick {
		m.startElection()
	}
}

func (m *Member) resetElectionTimer() {
	m.electionElapsed = 0
	m.randomizedElectionTick = m.opts.ElectionTick + rand.Intn(m.opts.ElectionTick)
}

// persist writes the whole logical persistent state through the
// capability. Callers hold the mutex; nothing observable may escape
// before the write returns.
func (m *Member) persist() error {
	state := raftpd.PersistentState{
		CurrentTerm:    m.term,
		VotedFor:       m.votedFor,
		SnapshotState:  m.snapshotState,
		SnapshotConfig: m.snapshotConfig,
		SnapshotIndex:  m.wal.PrevIndex(),
		SnapshotTerm:   m.wal.PrevTerm(),
		Entries:        m.wal.Entries(),
	}

	token, ok := m.drainer.Acquire()
	if !ok {
		return ErrStopped
	}
	defer token.Release()

	if err := m.netStorage.WritePersistentState(token.Context(), &state); err != nil {
		log.Errorf("%v [term: %d] persist failed: %v", m.id, m.term, err)
		return err
	}
	return nil
}

// becomeFollower downgrade to follower. A term bump clears the vote;
// the caller persists when it changed durable fields.
func (m *Member) becomeFollower(term uint64, leader raftpd.MemberID) {
	utils.Assert(term >= m.term, "%v term rollback %d => %d", m.id, m.term, term)

	origin := m.role
	if term > m.term {
		m.term = term
		m.votedFor = raftpd.NilMember
	}
	if origin == RoleLeader {
		m.resolveTokensLost()
	}
	m.role = RoleFollower
	m.leaderHint.Set(leader)
	m.resetElectionTimer()

	if origin != RoleFollower || leader != raftpd.NilMember {
		log.Debugf("%v [term: %d] %v => Follower, leader: %v",
			m.id, m.term, origin, leader)
	}
}

// updateEffectiveConfig recompute the effective configuration: the
// latest config entry in the log, or the snapshot's when none is
// held. Called after every log mutation, so a truncated config entry
// is reverted naturally.
func (m *Member) updateEffectiveConfig() {
	for idx := m.wal.LastIndex(); idx > m.wal.PrevIndex(); idx-- {
		entry := m.wal.At(idx)
		if entry.Type != raftpd.EntryConfig {
			continue
		}
		var cc raftpd.ComplexConfig
		pd.MustUnmarshal(&cc, entry.Data)
		m.config = cc
		return
	}
	m.config = m.snapshotConfig.Clone()
}

// wakeAllPeers nudge every peer updater without blocking.
func (m *Member) wakeAllPeers() {
	for _, wake := range m.wakes {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}
