package state

import (
	fpmath "PerpPool/internal/math"
	"fmt"
	"strings"
)

// AssetID identifies a synthetic asset, e.g. "DOT".
type AssetID string

// Universe is the ordered, administrator-fixed set of tradable assets.
type Universe struct {
	ids   []AssetID
	index map[AssetID]int
}

func NewUniverse(ids ...AssetID) (*Universe, error) {
	u := &Universe{
		ids:   make([]AssetID, 0, len(ids)),
		index: make(map[AssetID]int, len(ids)),
	}
	for _, id := range ids {
		if strings.TrimSpace(string(id)) == "" {
			return nil, fmt.Errorf("empty asset id")
		}
		if _, dup := u.index[id]; dup {
			return nil, fmt.Errorf("duplicate asset id %s", id)
		}
		u.index[id] = len(u.ids)
		u.ids = append(u.ids, id)
	}
	return u, nil
}

// MustUniverse is NewUniverse for fixed literals.
func MustUniverse(ids ...AssetID) *Universe {
	u, err := NewUniverse(ids...)
	if err != nil {
		panic(err)
	}
	return u
}

func (u *Universe) Contains(id AssetID) bool {
	_, ok := u.index[id]
	return ok
}

// Assets returns the universe in configured order.
func (u *Universe) Assets() []AssetID {
	out := make([]AssetID, len(u.ids))
	copy(out, u.ids)
	return out
}

func (u *Universe) Len() int {
	return len(u.ids)
}

// PriceSource yields the current oracle price of an asset, if any.
type PriceSource interface {
	Price(asset AssetID) (fpmath.Price, bool)
}
