package translator

import "errors"

// KeyPool holds the ordered list of alternate API credentials and the cursor
// of the one currently in use. It is process-scoped and mutated only by the
// orchestrator's rotation step; every call reads the current key, so a
// rotation takes effect on the very next attempt.
type KeyPool struct {
	keys []string
	cur  int
}

var ErrNoKeys = errors.New("key pool is empty")

func NewKeyPool(keys []string) (*KeyPool, error) {
	var clean []string
	for _, k := range keys {
		if k != "" {
			clean = append(clean, k)
		}
	}
	if len(clean) == 0 {
		return nil, ErrNoKeys
	}
	return &KeyPool{keys: clean}, nil
}

// Current returns the active credential.
func (p *KeyPool) Current() string {
	return p.keys[p.cur]
}

// Rotate advances to the next credential, wrapping at the end, and returns
// the newly active one.
func (p *KeyPool) Rotate() string {
	p.cur = (p.cur + 1) % len(p.keys)
	return p.keys[p.cur]
}

func (p *KeyPool) Len() int {
	return len(p.keys)
}

// Index returns the cursor position, for status reporting.
func (p *KeyPool) Index() int {
	return p.cur
}
