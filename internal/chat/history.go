package chat

import (
	"sort"

	"github.com/ashureev/agentchat/internal/domain"
)

// History is a chat transcript ordered by message time. A message id is kept
// once; later copies of the same id are ignored. Messages with equal times
// keep their arrival order.
type History struct {
	msgs []domain.Message
	seen map[domain.MessageID]struct{}
}

// Add merges msgs into the history and reports how many were new.
func (h *History) Add(msgs ...domain.Message) int {
	if h.seen == nil {
		h.seen = make(map[domain.MessageID]struct{})
	}
	added := 0
	for _, m := range msgs {
		if m.ID != "" {
			if _, dup := h.seen[m.ID]; dup {
				continue
			}
			h.seen[m.ID] = struct{}{}
		}
		h.msgs = append(h.msgs, m)
		added++
	}
	if added > 0 {
		sort.SliceStable(h.msgs, func(i, j int) bool {
			return h.msgs[i].Time().Before(h.msgs[j].Time())
		})
	}
	return added
}

// Messages returns a copy of the transcript.
func (h *History) Messages() []domain.Message {
	out := make([]domain.Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len returns the number of messages.
func (h *History) Len() int {
	return len(h.msgs)
}

// Reset empties the history.
func (h *History) Reset() {
	h.msgs = nil
	h.seen = nil
}
