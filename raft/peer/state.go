package peer

// VoteState record node voting status.
type VoteState int

// Vote status
const (
	VoteNone VoteState = iota
	VoteReject
	VoteGranted
)

// State transfer graph.
//
// Default state => probe (m: 0, n: log.lastIdx + 1)
//
// probe:
// 		send one append per round trip
// 		receive append response
//			success: => replicate (m: lastSent, n: m+1)
// 			failed: n: n-1, stay probe
// 		next falls below leader snapshot => snapshot (p: snapshot idx)
//
// snapshot:
// 		receive snapshot response => probe (m: p, n: p+1)
//		unreachable => probe (n: p)
//
// replicate:
// 		send log entries [n, log.lastIdx]
// 		unreachable => probe (n: m+1)
// 		receive append response:
//			success (m: lastSent, n: m+1)
// 			failed => probe (n: m+1)
//
type nodeState int

const (
	nodeStateProbe nodeState = iota
	nodeStateReplicate
	nodeStateSnapshot
)

var nodeStateString = []string{
	"Probe",
	"Replicate",
	"Snapshot",
}

func (state nodeState) String() string {
	return nodeStateString[state]
}
