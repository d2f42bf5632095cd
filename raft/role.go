package raft

// RoleType is the role of a member in its group.
type RoleType int

// Roles of raft member.
const (
	RoleFollower RoleType = iota
	RoleCandidate
	RoleLeader
)

var roleString = []string{
	"Follower",
	"Candidate",
	"Leader",
}

func (role RoleType) String() string {
	return roleString[role]
}
