package raft

// Options carry the tunables of a member. The zero value is filled
// with defaults by MakeMember.
type Options struct {
	// TickMs is the resolution of the internal timer.
	TickMs int

	// ElectionTick is the base election timeout in ticks. The
	// effective timeout is randomized in [ElectionTick, 2*ElectionTick).
	ElectionTick int

	// HeartbeatTick is the leader heartbeat interval in ticks. Must
	// be well below ElectionTick.
	HeartbeatTick int

	// SnapshotThreshold is how many applied entries may accumulate
	// in the log before the member compacts it.
	SnapshotThreshold uint64
}

func (opts Options) withDefaults() Options {
	if opts.TickMs == 0 {
		opts.TickMs = 10
	}
	if opts.ElectionTick == 0 {
		opts.ElectionTick = 30
	}
	if opts.HeartbeatTick == 0 {
		opts.HeartbeatTick = 6
	}
	if opts.SnapshotThreshold == 0 {
		opts.SnapshotThreshold = 64
	}
	return opts
}
