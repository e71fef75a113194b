// ABOUTME: Ledger domain types shared by the query client, dispatcher, and block stream
// ABOUTME: Amounts stay in smallest units (satoshis) until they are formatted for display

package ledger

// Transfer is one transaction touching an address.
type Transfer struct {
	Hash        string
	Amount      int64 // smallest units
	BlockHeight int64
}

// TransactionSummary lists received and sent transfers in the order the
// ledger service returned them.
type TransactionSummary struct {
	Received []Transfer
	Sent     []Transfer
}

// Empty reports whether the summary holds no transfers at all.
func (s *TransactionSummary) Empty() bool {
	return s == nil || (len(s.Received) == 0 && len(s.Sent) == 0)
}

// BlockMinedEvent is pushed by the ledger's event stream for every new block.
// It is forwarded to subscribers as its JSON encoding.
type BlockMinedEvent struct {
	Hash   string `json:"hash"`
	Height int64  `json:"height,omitempty"`
}
