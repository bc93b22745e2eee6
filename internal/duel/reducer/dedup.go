package reducer

import (
	"strconv"

	"github.com/promptduel/promptduel/internal/duel/events"
)

const (
	dedupCapacity = 500
	dedupTrimTo   = 250
	identityChars = 50
)

// identity keys a message by (timestamp, sender, first 50 chars of text).
// The log is at-least-once, so the same message can arrive more than once;
// this identity is what lets replay skip it.
func identity(msg events.GameMessage) string {
	text := msg.Text
	if runes := []rune(text); len(runes) > identityChars {
		text = string(runes[:identityChars])
	}
	return strconv.FormatInt(msg.CreatedAt.UnixMilli(), 10) + "|" + msg.Sender + "|" + text
}

// dedupSet is a bounded insertion-ordered set of message identities. On
// overflow it drops the oldest half so memory stays flat over a long duel.
type dedupSet struct {
	seen  map[string]struct{}
	order []string
}

func newDedupSet() *dedupSet {
	return &dedupSet{seen: make(map[string]struct{}, dedupCapacity)}
}

// observe records id and reports whether it was new.
func (d *dedupSet) observe(id string) bool {
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)

	if len(d.order) > dedupCapacity {
		drop := d.order[:len(d.order)-dedupTrimTo]
		for _, old := range drop {
			delete(d.seen, old)
		}
		kept := make([]string, dedupTrimTo)
		copy(kept, d.order[len(d.order)-dedupTrimTo:])
		d.order = kept
	}
	return true
}
