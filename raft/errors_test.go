package raft

import (
	"fmt"
	"strings"
	"testing"

	"github.com/821684824/raftcore/raft/raftpd"
)

func TestIsNotLeader(t *testing.T) {
	hint := raftpd.NewMemberID()

	got, ok := IsNotLeader(&NotLeaderError{Hint: hint})
	if !ok || got != hint {
		t.Fatalf("direct error: got (%v, %v), want (%v, true)", got, ok, hint)
	}

	wrapped := fmt.Errorf("proposal failed: %w", &NotLeaderError{Hint: hint})
	got, ok = IsNotLeader(wrapped)
	if !ok || got != hint {
		t.Fatalf("wrapped error: got (%v, %v), want (%v, true)", got, ok, hint)
	}

	if _, ok := IsNotLeader(ErrStopped); ok {
		t.Fatalf("ErrStopped misidentified as a leadership error")
	}
	if _, ok := IsNotLeader(nil); ok {
		t.Fatalf("nil misidentified as a leadership error")
	}
}

func TestNotLeaderError_Message(t *testing.T) {
	unknown := &NotLeaderError{Hint: raftpd.NilMember}
	if !strings.Contains(unknown.Error(), "leader unknown") {
		t.Fatalf("unexpected message: %q", unknown.Error())
	}

	hint := raftpd.NewMemberID()
	known := &NotLeaderError{Hint: hint}
	if !strings.Contains(known.Error(), hint.String()) {
		t.Fatalf("message %q does not name the hint", known.Error())
	}
}
