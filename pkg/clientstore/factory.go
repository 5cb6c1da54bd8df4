package clientstore

// Factories exposes the three store shims as named store factories. A CLI
// front-end registers this map before re-entering the stock VCS client
// runner, making the remote store a drop-in replacement for a local one.
// Keys match the entries a VCS client's store-factory registry expects
// for an object backend, op store, and op-heads store.
func (s *Store) Factories() map[string]any {
	return map[string]any{
		"tandem-object-backend": s.Objects,
		"tandem-op-store":       s.Ops,
		"tandem-op-heads-store": s.Heads,
	}
}
