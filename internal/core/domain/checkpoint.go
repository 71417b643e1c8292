package domain

import "time"

// Checkpoint is the durable ingestion position of one chain.
type Checkpoint struct {
	ChainID ChainID

	// LastProcessedBlock is only meaningful when HasBlock is true.
	LastProcessedBlock uint64
	HasBlock           bool

	// Recovering is set while a replay pass is in flight. Finding it set at
	// boot means the previous process died mid-recovery.
	Recovering bool
	UpdatedAt  time.Time
}
