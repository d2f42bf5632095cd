// Package simu is an in-process cluster harness. It hosts a set of
// raft members in one process, multiplexes their RPCs with randomized
// scheduling jitter, lets tests flip each replica between alive,
// isolated and dead, and checks the cross-replica safety invariants
// on a timer while traffic runs.
package simu

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/821684824/raftcore/raft"
	"github.com/821684824/raftcore/raft/raftpd"
	"github.com/821684824/raftcore/utils"
	"github.com/821684824/raftcore/utils/drain"
	"github.com/821684824/raftcore/watch"
)

// Liveness is a replica's slot state.
type Liveness int

const (
	// Dead replicas keep only their persistent state.
	Dead Liveness = iota
	// Isolated replicas run and tick timers but every RPC to or
	// from them fails.
	Isolated
	// Alive replicas participate fully.
	Alive
)

const (
	maxRedirects        = 2
	invariantIntervalMs = 100
)

// Cluster owns the member slots. Slots are created at construction or
// by Join and never removed; death only empties a slot.
type Cluster struct {
	mutex sync.Mutex
	slots map[raftpd.MemberID]*memberSlot
	order []raftpd.MemberID

	connected *watch.Set[raftpd.MemberID]
	opts      raft.Options

	checker *utils.Timer

	trafficMutex sync.Mutex
	trafficStop  chan struct{}
	trafficDone  chan struct{}
	generated    [][]byte
}

// MakeCluster start num alive members sharing an initial machine
// state and a configuration in which all of them vote.
func MakeCluster(num int, initialState []byte, opts raft.Options) *Cluster {
	c := &Cluster{
		slots:     make(map[raftpd.MemberID]*memberSlot),
		connected: watch.NewSet[raftpd.MemberID](),
		opts:      opts,
	}

	ids := make([]raftpd.MemberID, num)
	for i := range ids {
		ids[i] = raftpd.NewMemberID()
	}
	config := raftpd.MakeConfig(ids...)

	for _, id := range ids {
		slot := &memberSlot{cluster: c, id: id}
		slot.state = raftpd.MakeInitial(initialState, config.Clone())
		c.slots[id] = slot
		c.order = append(c.order, id)
	}
	for _, id := range ids {
		c.SetLive(id, Alive)
	}

	c.checker = utils.StartTimer(invariantIntervalMs, func(time.Time) {
		c.CheckInvariants()
	})
	return c
}

// Stop kill the whole cluster.
func (c *Cluster) Stop() {
	c.StopTraffic()
	c.checker.Stop()
	for _, id := range c.Members() {
		c.SetLive(id, Dead)
	}
}

// Members return every slot's id in creation order, dead or not.
func (c *Cluster) Members() []raftpd.MemberID {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]raftpd.MemberID(nil), c.order...)
}

func (c *Cluster) slot(id raftpd.MemberID) *memberSlot {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	slot := c.slots[id]
	utils.Assert(slot != nil, "simu: unknown member %v", id)
	return slot
}

// Live report the slot's current liveness.
func (c *Cluster) Live(id raftpd.MemberID) Liveness {
	slot := c.slot(id)
	slot.rwlock.RLock()
	defer slot.rwlock.RUnlock()

	if slot.member == nil {
		return Dead
	}
	if slot.alive == nil {
		return Isolated
	}
	return Alive
}

// SetLive move the slot to the given liveness. Going down removes the
// member from the connected set before its token drains, so peers
// observe the disconnect first. A member brought back from dead is
// rebuilt from the slot's stored persistent state alone.
func (c *Cluster) SetLive(id raftpd.MemberID, live Liveness) {
	slot := c.slot(id)

	log.Infof("simu: member %v -> %v", id, live)

	if live != Alive {
		c.connected.Remove(id)
		slot.rwlock.Lock()
		alive := slot.alive
		slot.alive = nil
		slot.rwlock.Unlock()
		if alive != nil {
			alive.Drain()
		}
	}

	if live == Dead {
		slot.rwlock.Lock()
		member := slot.member
		slot.member = nil
		slot.machine = nil
		slot.rwlock.Unlock()
		// Stop outside the write lock: the member's in-flight sends
		// read-lock this slot on their way out.
		if member != nil {
			member.Stop()
		}
		return
	}

	slot.rwlock.RLock()
	exists := slot.member != nil
	slot.rwlock.RUnlock()
	if !exists {
		machine := &changeMachine{}
		member := raft.MakeMember(slot.id, slot, machine,
			slot.persistentState(), c.opts)
		slot.rwlock.Lock()
		slot.member = member
		slot.machine = machine
		slot.rwlock.Unlock()
	}

	if live == Alive {
		slot.rwlock.Lock()
		if slot.alive == nil {
			slot.alive = drain.New()
		}
		slot.rwlock.Unlock()
		c.connected.Add(id)
	}
}

// Join add a blank member to the cluster, alive but outside every
// configuration until a config change admits it. Once a leader learns
// about it, it syncs up through AppendEntries, or through an
// install-snapshot when the leader has compacted its log past index 0.
func (c *Cluster) Join() raftpd.MemberID {
	id := raftpd.NewMemberID()
	slot := &memberSlot{cluster: c, id: id}
	slot.state = raftpd.MakeJoin()

	c.mutex.Lock()
	c.slots[id] = slot
	c.order = append(c.order, id)
	c.mutex.Unlock()

	c.SetLive(id, Alive)
	return id
}

// anyAliveID pick an arbitrary alive member. Map iteration order is
// deliberately unspecified.
func (c *Cluster) anyAliveID() (raftpd.MemberID, bool) {
	for id := range c.connected.Snapshot() {
		return id, true
	}
	return raftpd.NilMember, false
}

// TryChange deliver change to some alive member, following leader
// hints a bounded number of hops. Fire and forget: the outcome is
// dropped, commit is observed through WaitForCommit.
func (c *Cluster) TryChange(change []byte) {
	target, ok := c.anyAliveID()
	if !ok {
		return
	}

	for hop := 0; hop <= maxRedirects; hop++ {
		var proposeErr error
		delivered := c.holdsToken(target, func(m *raft.Member) {
			_, proposeErr = m.ProposeChangeIfLeader(change)
		})
		if !delivered || proposeErr == nil {
			return
		}
		hint, notLeader := raft.IsNotLeader(proposeErr)
		if !notLeader || hint.IsNil() {
			return
		}
		target = hint
	}
}

// TryConfigChange deliver a configuration change the same way as
// TryChange, reporting whether some leader accepted it.
func (c *Cluster) TryConfigChange(newConfig raftpd.Config) bool {
	target, ok := c.anyAliveID()
	if !ok {
		return false
	}

	for hop := 0; hop <= maxRedirects; hop++ {
		var proposeErr error
		delivered := c.holdsToken(target, func(m *raft.Member) {
			_, proposeErr = m.ProposeConfigChangeIfLeader(newConfig)
		})
		if !delivered {
			return false
		}
		if proposeErr == nil {
			return true
		}
		hint, notLeader := raft.IsNotLeader(proposeErr)
		if !notLeader || hint.IsNil() {
			return false
		}
		target = hint
	}
	return false
}

// WaitForCommit block until some alive member's machine contains
// change. The caller keeps a quorum alive for the duration.
func (c *Cluster) WaitForCommit(ctx context.Context, change []byte) error {
	id, ok := c.anyAliveID()
	if !ok {
		return errUnreachable
	}

	var sm *raft.StateMachine
	if !c.holdsToken(id, func(m *raft.Member) { sm = m.GetStateMachine() }) {
		return errUnreachable
	}

	return sm.RunUntilSatisfied(ctx, func(m raft.Machine) bool {
		return m.(*changeMachine).Contains(change)
	})
}

// ReadStatus return an alive member's term and leadership claim. ok
// is false for isolated or dead members.
func (c *Cluster) ReadStatus(id raftpd.MemberID) (term uint64, isLeader, ok bool) {
	ok = c.holdsToken(id, func(m *raft.Member) {
		term, isLeader = m.ReadStatus()
	})
	return term, isLeader, ok
}

// Changes return the applied change sequence of id's machine, nil for
// a dead member.
func (c *Cluster) Changes(id raftpd.MemberID) [][]byte {
	slot := c.slot(id)
	slot.rwlock.RLock()
	machine := slot.machine
	slot.rwlock.RUnlock()

	if machine == nil {
		return nil
	}
	return machine.Changes()
}

// StartTraffic fire a fresh uuid change through TryChange every
// interval until StopTraffic. Outcomes are dropped on the floor.
func (c *Cluster) StartTraffic(interval time.Duration) {
	c.trafficMutex.Lock()
	defer c.trafficMutex.Unlock()
	utils.Assert(c.trafficStop == nil, "simu: traffic already running")

	stop := make(chan struct{})
	done := make(chan struct{})
	c.trafficStop = stop
	c.trafficDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				change := uuid.New()
				c.trafficMutex.Lock()
				c.generated = append(c.generated, change[:])
				c.trafficMutex.Unlock()
				go c.TryChange(change[:])
			}
		}
	}()
}

// StopTraffic stop the generator. Safe to call when none is running.
func (c *Cluster) StopTraffic() {
	c.trafficMutex.Lock()
	stop, done := c.trafficStop, c.trafficDone
	c.trafficStop = nil
	c.trafficDone = nil
	c.trafficMutex.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// GeneratedChanges return every change the traffic generator fired,
// in order.
func (c *Cluster) GeneratedChanges() [][]byte {
	c.trafficMutex.Lock()
	defer c.trafficMutex.Unlock()
	result := make([][]byte, len(c.generated))
	copy(result, c.generated)
	return result
}

// CheckInvariants snapshot every live member under its slot read
// lock and assert the cross-replica safety properties. Runs on a
// timer while the cluster is up; tests may also call it directly.
func (c *Cluster) CheckInvariants() {
	c.mutex.Lock()
	slots := make([]*memberSlot, 0, len(c.order))
	for _, id := range c.order {
		slots = append(slots, c.slots[id])
	}
	c.mutex.Unlock()

	members := make([]*raft.Member, 0, len(slots))
	locked := make([]*memberSlot, 0, len(slots))
	for _, slot := range slots {
		slot.rwlock.RLock()
		if slot.member == nil {
			slot.rwlock.RUnlock()
			continue
		}
		members = append(members, slot.member)
		locked = append(locked, slot)
	}

	raft.CheckInvariants(members)

	for _, slot := range locked {
		slot.rwlock.RUnlock()
	}
}

func (live Liveness) String() string {
	switch live {
	case Dead:
		return "dead"
	case Isolated:
		return "isolated"
	case Alive:
		return "alive"
	default:
		return "unknown"
	}
}
