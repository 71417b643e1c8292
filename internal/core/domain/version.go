package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
)

// Version is the chain position of the log that produced a write.
// Writes to the same entity are resolved last-write-wins by Version.
type Version struct {
	Block uint64
	Index uint
}

// VersionOf returns the version stamp of a log.
func VersionOf(l types.Log) Version {
	return Version{Block: l.BlockNumber, Index: l.Index}
}

// Less reports whether v sorts strictly before o.
func (v Version) Less(o Version) bool {
	if v.Block != o.Block {
		return v.Block < o.Block
	}
	return v.Index < o.Index
}

func (v Version) IsZero() bool {
	return v.Block == 0 && v.Index == 0
}

func (v Version) String() string {
	return fmt.Sprintf("%d:%d", v.Block, v.Index)
}
