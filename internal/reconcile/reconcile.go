// Package reconcile picks the winner between two versions of one record and
// applies it to a store.
package reconcile

import (
	"bytes"

	"github.com/dmitrijs2005/homesync/internal/codec"
	"github.com/dmitrijs2005/homesync/internal/models"
)

// Reconcile returns the version of the record that survives. It is pure,
// commutative and idempotent:
//
//  1. the greater UpdatedAt wins;
//  2. on equal UpdatedAt a live record beats a tombstone;
//  3. otherwise the greater fingerprint wins, and for identical versions
//     the greater Seq.
//
// The winner is returned whole, so the loser's tenant and attributes are
// discarded. Fields are never merged.
func Reconcile(local, remote models.Record) models.Record {
	if remoteWins(local, remote) {
		return remote
	}
	return local
}

func remoteWins(local, remote models.Record) bool {
	if c := local.UpdatedAt.Compare(remote.UpdatedAt); c != 0 {
		return c < 0
	}
	if local.IsDeleted() != remote.IsDeleted() {
		return local.IsDeleted()
	}
	if c := bytes.Compare(codec.Fingerprint(local), codec.Fingerprint(remote)); c != 0 {
		return c < 0
	}
	return local.Seq < remote.Seq
}

// Same reports whether a and b hold the same version, ignoring Seq.
func Same(a, b models.Record) bool {
	return bytes.Equal(codec.Fingerprint(a), codec.Fingerprint(b))
}
