package raftpd

// Config is a simple configuration: one set of voting members and an
// optional set of non-voting members. Non-voting members replicate
// and apply the log but never vote and never count toward quorums.
type Config struct {
	VotingMembers    map[MemberID]bool
	NonVotingMembers map[MemberID]bool
}

// MakeConfig return a simple config with the given voters.
func MakeConfig(voters ...MemberID) Config {
	c := Config{
		VotingMembers:    make(map[MemberID]bool),
		NonVotingMembers: make(map[MemberID]bool),
	}
	for _, id := range voters {
		c.VotingMembers[id] = true
	}
	return c
}

// Clone return a deep copy.
func (c *Config) Clone() Config {
	out := MakeConfig()
	for id := range c.VotingMembers {
		out.VotingMembers[id] = true
	}
	for id := range c.NonVotingMembers {
		out.NonVotingMembers[id] = true
	}
	return out
}

// IsMember report whether id appears in the config at all.
func (c *Config) IsMember(id MemberID) bool {
	return c.VotingMembers[id] || c.NonVotingMembers[id]
}

// IsVoter report whether id is a voting member.
func (c *Config) IsVoter(id MemberID) bool {
	return c.VotingMembers[id]
}

// IsQuorum report whether acks contains a strict majority of the
// voting members.
func (c *Config) IsQuorum(acks map[MemberID]bool) bool {
	count := 0
	for id := range c.VotingMembers {
		if acks[id] {
			count++
		}
	}
	return count*2 > len(c.VotingMembers)
}

// ComplexConfig is either a simple config (NewConfig nil) or a joint
// config carrying both halves of a reconfiguration. A joint quorum
// requires quorums from both halves.
type ComplexConfig struct {
	Config    Config
	NewConfig *Config
}

// Reset clears the config for decoding.
func (c *ComplexConfig) Reset() {
	*c = ComplexConfig{}
}

// Clone return a deep copy.
func (c *ComplexConfig) Clone() ComplexConfig {
	out := ComplexConfig{Config: c.Config.Clone()}
	if c.NewConfig != nil {
		nc := c.NewConfig.Clone()
		out.NewConfig = &nc
	}
	return out
}

// IsJoint report whether this is a joint config.
func (c *ComplexConfig) IsJoint() bool {
	return c.NewConfig != nil
}

// IsMember report whether id appears in either half.
func (c *ComplexConfig) IsMember(id MemberID) bool {
	if c.Config.IsMember(id) {
		return true
	}
	return c.NewConfig != nil && c.NewConfig.IsMember(id)
}

// IsVoter report whether id votes in either half.
func (c *ComplexConfig) IsVoter(id MemberID) bool {
	if c.Config.IsVoter(id) {
		return true
	}
	return c.NewConfig != nil && c.NewConfig.IsVoter(id)
}

// IsQuorum report whether acks is a quorum of the effective
// configuration. During a joint config both halves must be satisfied.
func (c *ComplexConfig) IsQuorum(acks map[MemberID]bool) bool {
	if !c.Config.IsQuorum(acks) {
		return false
	}
	return c.NewConfig == nil || c.NewConfig.IsQuorum(acks)
}

// Members return every member of either half, voting or not.
func (c *ComplexConfig) Members() map[MemberID]bool {
	out := make(map[MemberID]bool)
	for id := range c.Config.VotingMembers {
		out[id] = true
	}
	for id := range c.Config.NonVotingMembers {
		out[id] = true
	}
	if c.NewConfig != nil {
		for id := range c.NewConfig.VotingMembers {
			out[id] = true
		}
		for id := range c.NewConfig.NonVotingMembers {
			out[id] = true
		}
	}
	return out
}
