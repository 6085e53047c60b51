// Package route selects the delivery channel for a message, balancing
// the caller's preference, per-channel rate limits, reliability for
// critical traffic, and per-send cost for everything else.
package route

import (
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/ratelimit"
)

// Selector picks a channel for each send cycle. It is stateless apart
// from the limiter it consults, so it is safe for concurrent use.
type Selector struct {
	limiter  *ratelimit.Limiter
	channels []message.Channel
	costs    map[message.Channel]float64
}

// New creates a Selector over the supported channel set with the given
// per-send costs.
func New(limiter *ratelimit.Limiter, channels []message.Channel, costs map[message.Channel]float64) *Selector {
	chs := make([]message.Channel, len(channels))
	copy(chs, channels)
	cs := make(map[message.Channel]float64, len(costs))
	for ch, c := range costs {
		cs[ch] = c
	}
	return &Selector{limiter: limiter, channels: chs, costs: cs}
}

// Select picks the channel for the message's next send cycle:
//
//  1. The preferred channel moves to the front of the candidate set.
//  2. Channels over their rate ceiling are filtered out.
//  3. Critical messages take the most reliable available channel.
//  4. Everything else takes the cheapest available channel.
//  5. With every channel throttled, the preferred channel is returned
//     anyway: accepting throttling risk beats silently dropping the
//     message under overload.
func (s *Selector) Select(m *message.Message) message.Channel {
	ordered := s.preferredFirst(m.PreferredChannel)

	available := ordered[:0:0]
	for _, ch := range ordered {
		if s.limiter.Allow(ch) {
			available = append(available, ch)
		}
	}

	if len(available) == 0 {
		return m.PreferredChannel
	}

	if m.Priority == message.PriorityCritical {
		for _, ch := range message.ReliabilityOrder() {
			if contains(available, ch) {
				return ch
			}
		}
	}

	return s.cheapest(available)
}

// Available reports whether the channel is currently under its ceiling.
func (s *Selector) Available(ch message.Channel) bool {
	return s.limiter.Allow(ch)
}

// Configured reports whether the channel is one the selector routes to.
func (s *Selector) Configured(ch message.Channel) bool {
	return contains(s.channels, ch)
}

// preferredFirst returns the supported channels with pref moved to the
// front when present.
func (s *Selector) preferredFirst(pref message.Channel) []message.Channel {
	out := make([]message.Channel, 0, len(s.channels))
	if contains(s.channels, pref) {
		out = append(out, pref)
	}
	for _, ch := range s.channels {
		if ch != pref {
			out = append(out, ch)
		}
	}
	return out
}

// cheapest returns the candidate with the lowest configured per-send
// cost. Candidates without a configured cost sort last; order breaks
// ties.
func (s *Selector) cheapest(candidates []message.Channel) message.Channel {
	best := candidates[0]
	bestCost, ok := s.costs[best]
	for _, ch := range candidates[1:] {
		cost, known := s.costs[ch]
		if !known {
			continue
		}
		if !ok || cost < bestCost {
			best, bestCost, ok = ch, cost, true
		}
	}
	return best
}

func contains(chs []message.Channel, ch message.Channel) bool {
	for _, c := range chs {
		if c == ch {
			return true
		}
	}
	return false
}
