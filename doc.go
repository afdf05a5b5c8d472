// Package caskdb is an embedded, Bitcask-style key-value storage engine: a
// persistent, single-writer, multi-reader on-disk map from arbitrary byte
// keys to arbitrary byte values. Durability comes from an append-only
// segmented log; point lookups are served from an in-memory index
// (the "keydir") kept consistent with the log.
//
// A directory is owned by exactly one open *DB at a time, enforced by an
// advisory filesystem lock. Writes are linearized through a single mutex,
// which is what makes the append offsets recorded in the keydir
// authoritative. Reads may run concurrently with each other; a read waits
// for an in-flight write (or a merge's publish step) to finish.
//
//	db, err := caskdb.Open("/var/lib/myapp/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Set([]byte("leader-node"), []byte("instance-a")); err != nil {
//		log.Fatal(err)
//	}
//	v, err := db.Get([]byte("leader-node"))
package caskdb
