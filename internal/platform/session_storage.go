package platform

import "context"

// stringSessionStorage adapts an opaque session credential string to
// gotd's telegram.SessionStorage interface. Store keeps data in memory
// only: model.PlatformSession.SessionString must never be mutated by the
// core (spec.md §6), so a refreshed auth key gotd wants to persist is
// held for the life of this storage value and never written back.
type stringSessionStorage struct {
	data []byte
}

func newStringSessionStorage(sessionString string) *stringSessionStorage {
	return &stringSessionStorage{data: []byte(sessionString)}
}

func (s *stringSessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	if len(s.data) == 0 {
		return nil, nil
	}
	return s.data, nil
}

func (s *stringSessionStorage) StoreSession(ctx context.Context, data []byte) error {
	s.data = data
	return nil
}
