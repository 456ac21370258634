package domain

import (
	"math/big"
	"time"
)

// SweepJob asks for the funds on a deposit address to be moved to custody.
type SweepJob struct {
	ChainID     string
	Address     string
	WalletIndex uint32
	Asset       *Asset
	TriggeredBy string // deposit tx id
	QueuedAt    time.Time
}

// SweepPlan is the fee arithmetic behind a sweep, all amounts in wei.
type SweepPlan struct {
	Balance        *big.Int
	BaseFeeRate    *big.Int
	WorkingFeeRate *big.Int
	Units          uint64
	Reserve        *big.Int
	Buffer         *big.Int
	Transferable   *big.Int
}

type SweepStatus string

const (
	SweepStatusSubmitted SweepStatus = "submitted"
	SweepStatusSkipped   SweepStatus = "skipped"
	SweepStatusFailed    SweepStatus = "failed"
)

type SweepResult struct {
	ID          string
	ChainID     string
	Address     string
	Destination string
	Asset       *Asset
	Amount      *big.Int
	TxHash      string
	Status      SweepStatus
	Plan        *SweepPlan
	Reason      string
	SubmittedAt time.Time
}
