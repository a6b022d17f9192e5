package models

import (
	"strings"
	"time"
)

// Poll is embedded in a message of type poll
type Poll struct {
	Question           string           `json:"question"`
	Options            []string         `json:"options"`
	Votes              map[int][]string `json:"votes"`
	AllowMultipleVotes bool             `json:"allowMultipleVotes"`
	ExpiresAt          *time.Time       `json:"expiresAt,omitempty"`
}

// IsExpired reports whether voting is closed at now
func (p *Poll) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// HasVoted reports whether voter is in the set of option index
func (p *Poll) HasVoted(index int, voter string) bool {
	return containsID(p.Votes[index], voter)
}

// Toggle applies a vote by voter on option index and returns whether the
// voter is now counted for that option. In single-choice polls the voter is
// first removed from every other option. Voting for an option already
// chosen retracts the vote. The caller validates index.
func (p *Poll) Toggle(index int, voter string) bool {
	if p.Votes == nil {
		p.Votes = make(map[int][]string)
	}

	if !p.AllowMultipleVotes {
		for option, voters := range p.Votes {
			if option != index {
				p.Votes[option] = removeID(voters, voter)
			}
		}
	}

	voters := p.Votes[index]
	if containsID(voters, voter) {
		p.Votes[index] = removeID(voters, voter)
		return false
	}
	p.Votes[index] = append(voters, voter)
	return true
}

// PollTally summarises a poll for display
type PollTally struct {
	Counts      []int `json:"counts"`
	TotalVoters int   `json:"totalVoters"`
}

// Tally counts the votes per option and the number of distinct voters
func (p *Poll) Tally() PollTally {
	tally := PollTally{Counts: make([]int, len(p.Options))}
	distinct := make(map[string]struct{})
	for option, voters := range p.Votes {
		if option < 0 || option >= len(p.Options) {
			continue
		}
		tally.Counts[option] = len(voters)
		for _, voter := range voters {
			distinct[voter] = struct{}{}
		}
	}
	tally.TotalVoters = len(distinct)
	return tally
}

// NormalizePollOptions trims every option, drops empty ones and removes
// duplicates, keeping the first occurrence.
func NormalizePollOptions(options []string) []string {
	seen := make(map[string]struct{}, len(options))
	out := make([]string, 0, len(options))
	for _, option := range options {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		if _, ok := seen[option]; ok {
			continue
		}
		seen[option] = struct{}{}
		out = append(out, option)
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
