package domain

import "time"

// Producer is a registered rating target as last synced from the chain.
type Producer struct {
	Owner      Name
	URL        string
	TotalVotes float64
	Active     bool
	SyncedAt   time.Time
}

// Voter is the chain's voting record for an account.
type Voter struct {
	Owner     Name
	Proxy     Name
	IsProxy   bool
	Producers []Name
}

// VoterCount is the number of producers the account votes for.
func (v Voter) VoterCount() uint32 {
	return uint32(len(v.Producers))
}
