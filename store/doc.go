// Package store persists the emergency registries in a local SQLite
// database.
//
// Records are stored as their packet encoding next to the time they entered
// the registry, so retention keeps counting across restarts:
//
//	db, err := store.Open("sosmesh.db")
//	if err != nil {
//	    return err
//	}
//	snap, _ := db.Load()
//	router.Restore(snap)
//
//	p := store.NewPersister(db, router, 0)
//	p.Start()
//	defer p.Stop()
package store
