/*
Package raft implements the member state machine of the Raft
consensus algorithm: leader election, log replication, commit index
advancement, log compaction via snapshot install, and dynamic
membership change through joint consensus.

A Member is constructed from a raftpd.PersistentState (either the
founding MakeInitial state or a blank MakeJoin state) together with a
NetworkAndStorage capability supplied by the embedder. The capability
carries the three RPCs, the durable state writer and a connectivity
watchable; the member itself defines no wire format and no on-disk
format.

Clients submit changes with ProposeChangeIfLeader and observe results
through the returned ChangeToken or through the state machine
adapter's RunUntilSatisfied. Non-leaders fail proposals with a
NotLeaderError carrying a best-effort leader hint.
*/
package raft
