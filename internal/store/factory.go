package store

import (
	"lumen.app/relay/core/db"
)

type Stores struct {
	q db.DBTX
}

func NewStores(q db.DBTX) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Messages() MessageStore {
	return newMessageStore(s.q)
}
