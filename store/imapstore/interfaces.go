// SPDX-License-Identifier: GPL-3.0-or-later
package imapstore

import "github.com/emersion/go-imap"

// Consolidated deleter and mover interfaces used by the store, so fakes in
// tests can stand in for the capability-specific implementations.

type deleter interface {
	delete([]uint32) error
	deleteReady() (error, error)
}

type mover interface {
	move(uids []uint32, folder string) error
	moveReady() (error, error)
}

type copyAndDeleteMoveClient interface {
	deleter
	UidCopy(seqset *imap.SeqSet, dest string) error
}
