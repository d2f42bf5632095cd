package simu

import (
	"context"
	"errors"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/821684824/raftcore/raft"
	"github.com/821684824/raftcore/raft/raftpd"
	"github.com/821684824/raftcore/utils/drain"
	"github.com/821684824/raftcore/watch"
)

var errUnreachable = errors.New("simu: member unreachable")

// memberSlot is one replica's home in the cluster. The slot outlives
// the member: a dead replica keeps only its persistent state, from
// which a later resurrection rebuilds the member.
//
// rwlock is read-locked to dispatch into the member and write-locked
// to create or destroy it. alive is the liveness token: isolated
// members keep their member but lose the token, so every RPC to or
// from them fails.
type memberSlot struct {
	cluster *Cluster
	id      raftpd.MemberID

	rwlock  sync.RWMutex
	member  *raft.Member
	machine *changeMachine
	alive   *drain.Drainer

	stateMutex sync.Mutex
	state      raftpd.PersistentState
}

var _ raft.NetworkAndStorage = (*memberSlot)(nil)

func (slot *memberSlot) SendRequestVote(ctx context.Context,
	dest raftpd.MemberID, req *raftpd.RequestVoteRequest) (
	*raftpd.RequestVoteReply, error) {
	var reply *raftpd.RequestVoteReply
	err := slot.cluster.doRPC(ctx, slot.id, dest,
		func(ctx context.Context, m *raft.Member) error {
			var err error
			reply, err = m.OnRequestVote(ctx, req)
			return err
		})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (slot *memberSlot) SendAppendEntries(ctx context.Context,
	dest raftpd.MemberID, req *raftpd.AppendEntriesRequest) (
	*raftpd.AppendEntriesReply, error) {
	var reply *raftpd.AppendEntriesReply
	err := slot.cluster.doRPC(ctx, slot.id, dest,
		func(ctx context.Context, m *raft.Member) error {
			var err error
			reply, err = m.OnAppendEntries(ctx, req)
			return err
		})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (slot *memberSlot) SendInstallSnapshot(ctx context.Context,
	dest raftpd.MemberID, req *raftpd.InstallSnapshotRequest) (
	*raftpd.InstallSnapshotReply, error) {
	var reply *raftpd.InstallSnapshotReply
	err := slot.cluster.doRPC(ctx, slot.id, dest,
		func(ctx context.Context, m *raft.Member) error {
			var err error
			reply, err = m.OnInstallSnapshot(ctx, req)
			return err
		})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// WritePersistentState mirror the state into the slot. The copy is
// all or nothing: on cancellation the previous state stays intact.
func (slot *memberSlot) WritePersistentState(ctx context.Context,
	state *raftpd.PersistentState) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	clone := state.Clone()

	slot.stateMutex.Lock()
	defer slot.stateMutex.Unlock()
	slot.state = clone
	return nil
}

func (slot *memberSlot) ConnectedMembers() *watch.Set[raftpd.MemberID] {
	return slot.cluster.connected
}

// persistentState return a copy of the slot's stored state.
func (slot *memberSlot) persistentState() raftpd.PersistentState {
	slot.stateMutex.Lock()
	defer slot.stateMutex.Unlock()
	return slot.state.Clone()
}

// aliveToken acquire a liveness token from the slot's drainer, if it
// holds one. Callers must hold rwlock.
func (slot *memberSlot) aliveToken() (*drain.Token, bool) {
	if slot.alive == nil {
		return nil, false
	}
	return slot.alive.Acquire()
}

// doRPC deliver one request to dest's handler. Random yields and
// sleeps around the call shake out concurrent orderings. The call
// fails when either end lacks a liveness token; the handler runs
// under a cancellation context tied to the destination's token, so
// killing the destination interrupts it.
func (c *Cluster) doRPC(ctx context.Context, src, dest raftpd.MemberID,
	handler func(ctx context.Context, m *raft.Member) error) error {
	block()

	if !c.holdsToken(src, func(*raft.Member) {}) {
		return errUnreachable
	}

	c.mutex.Lock()
	slot := c.slots[dest]
	c.mutex.Unlock()
	if slot == nil {
		return errUnreachable
	}

	slot.rwlock.RLock()
	defer slot.rwlock.RUnlock()

	if slot.member == nil {
		return errUnreachable
	}
	token, ok := slot.aliveToken()
	if !ok {
		return errUnreachable
	}
	defer token.Release()

	if err := handler(token.Context(), slot.member); err != nil {
		return err
	}

	block()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}

// holdsToken run f against id's member while briefly holding its
// liveness token, reporting whether the token could be taken at all.
func (c *Cluster) holdsToken(id raftpd.MemberID, f func(*raft.Member)) bool {
	c.mutex.Lock()
	slot := c.slots[id]
	c.mutex.Unlock()
	if slot == nil {
		return false
	}

	slot.rwlock.RLock()
	defer slot.rwlock.RUnlock()

	if slot.member == nil {
		return false
	}
	token, ok := slot.aliveToken()
	if !ok {
		return false
	}
	defer token.Release()

	f(slot.member)
	return true
}

// block yield to another goroutine, or once in a while sleep a short
// random interval, so that RPCs interleave in many orders.
func block() {
	if rand.Intn(10) != 0 {
		runtime.Gosched()
	} else {
		time.Sleep(time.Duration(rand.Intn(30)) * time.Millisecond)
	}
}
