package runtime

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/predictx/internal/domain"
)

type entry struct {
	value   []byte
	deleted bool
}

// overlay buffers the writes of one invocation on top of the store and
// serves reads from the buffer first.
type overlay struct {
	store  domain.KVStore
	writes map[string]entry
}

func newOverlay(store domain.KVStore) *overlay {
	return &overlay{store: store, writes: make(map[string]entry)}
}

func (o *overlay) get(ctx context.Context, key string) ([]byte, bool, error) {
	if e, ok := o.writes[key]; ok {
		if e.deleted {
			return nil, false, nil
		}
		return e.value, true, nil
	}
	v, ok, err := o.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("runtime: get %s: %w", key, err)
	}
	return v, ok, nil
}

func (o *overlay) put(key string, value []byte) {
	o.writes[key] = entry{value: append([]byte(nil), value...)}
}

func (o *overlay) del(key string) {
	o.writes[key] = entry{deleted: true}
}

// mutations returns the write set in key order.
func (o *overlay) mutations() []domain.KVWrite {
	keys := make([]string, 0, len(o.writes))
	for k := range o.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]domain.KVWrite, 0, len(keys))
	for _, k := range keys {
		e := o.writes[k]
		out = append(out, domain.KVWrite{Key: k, Value: e.value, Delete: e.deleted})
	}
	return out
}
