package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// DepositNotification is the watch feed's webhook body. Entries for the same
// transfer arrive twice: once unconfirmed and once confirmed.
type DepositNotification struct {
	Confirmed      bool             `json:"confirmed"`
	ChainID        string           `json:"chainId"`
	StreamID       string           `json:"streamId,omitempty"`
	Tag            string           `json:"tag,omitempty"`
	Txs            []NativeTransfer `json:"txs"`
	ERC20Transfers []TokenTransfer  `json:"erc20Transfers"`
}

// IsEmpty reports whether the notification carries no entries, as sent by
// the feed when validating a new endpoint.
func (n *DepositNotification) IsEmpty() bool {
	return n == nil || (len(n.Txs) == 0 && len(n.ERC20Transfers) == 0)
}

type NativeTransfer struct {
	Hash        string     `json:"hash"`
	FromAddress string     `json:"fromAddress"`
	ToAddress   string     `json:"toAddress"`
	Value       FlexString `json:"value"`
}

type TokenTransfer struct {
	TransactionHash string     `json:"transactionHash"`
	LogIndex        FlexString `json:"logIndex"`
	Contract        string     `json:"contract"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	Value           FlexString `json:"value"`
	TokenName       string     `json:"tokenName"`
	TokenSymbol     string     `json:"tokenSymbol"`
	TokenDecimals   FlexString `json:"tokenDecimals"`
}

// FlexString accepts a JSON string or number. The feed is not consistent about
// quoting numeric fields.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// OutcomeStatus is the per-entry result of processing a notification.
type OutcomeStatus string

const (
	OutcomePendingCreated  OutcomeStatus = "pending_created"
	OutcomePendingExists   OutcomeStatus = "pending_exists"
	OutcomeCredited        OutcomeStatus = "credited"
	OutcomeAlreadyCredited OutcomeStatus = "already_credited"
	OutcomeIgnored         OutcomeStatus = "ignored"
	OutcomeInvalid         OutcomeStatus = "invalid"
	OutcomePendingMissing  OutcomeStatus = "pending_missing"
	OutcomeFailed          OutcomeStatus = "failed"
)

type EntryOutcome struct {
	TxID    string        `json:"tx_id,omitempty"`
	Kind    DepositKind   `json:"kind"`
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message,omitempty"`
	Err     error         `json:"-"`
}

type ProcessResult struct {
	Confirmed bool           `json:"confirmed"`
	ChainID   string         `json:"chain_id"`
	Entries   []EntryOutcome `json:"entries"`
}

// Count returns how many entries ended with status.
func (r *ProcessResult) Count(status OutcomeStatus) int {
	n := 0
	for _, e := range r.Entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

// FirstError returns the first entry error of the given status, if any.
func (r *ProcessResult) FirstError(status OutcomeStatus) error {
	for _, e := range r.Entries {
		if e.Status == status && e.Err != nil {
			return e.Err
		}
	}
	return nil
}
