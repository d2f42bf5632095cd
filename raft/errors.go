package raft

import (
	"errors"
	"fmt"

	"github.com/821684824/raftcore/raft/raftpd"
)

// ErrStopped is returned by operations on a member that has been
// stopped.
var ErrStopped = errors.New("raft: member stopped")

// ErrConfigInProgress is returned by ProposeConfigChangeIfLeader
// while a previous reconfiguration has not finished.
var ErrConfigInProgress = errors.New("raft: configuration change in progress")

// NotLeaderError is returned by proposals sent to a non-leader. Hint
// is the last leader this member heard from, or the nil id when
// unknown.
type NotLeaderError struct {
	Hint raftpd.MemberID
}

func (e *NotLeaderError) Error() string {
	if e.Hint.IsNil() {
		return "raft: not leader, leader unknown"
	}
	return fmt.Sprintf("raft: not leader, try %v", e.Hint)
}

// IsNotLeader report whether err is a NotLeaderError and return its
// hint.
func IsNotLeader(err error) (raftpd.MemberID, bool) {
	var nl *NotLeaderError
	if errors.As(err, &nl) {
		return nl.Hint, true
	}
	return raftpd.NilMember, false
}
