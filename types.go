package bitgrind

import "time"

// HashPointer is the authoritative tip of the chain at a point in time.
// Immutable once constructed; a new pointer replaces the old one atomically
// at each epoch transition.
type HashPointer struct {
	PreviousHash string
	Nonce        string
	Difficulty   int
}

// Block is a locally computed chain-extension candidate. A block is
// proposed before it is accepted by the ledger service; only accepted
// blocks advance the chain.
type Block struct {
	Previous   string `json:"previous"`
	Identity   string `json:"identity"`
	Nonce      string `json:"nonce"`
	Hash       string `json:"hash"`
	Difficulty int    `json:"difficulty"`
}

// Line returns the exact concatenation the hasher consumed. The chain file
// records accepted blocks in this form, one per line.
func (b *Block) Line() string {
	return b.Previous + b.Identity + b.Nonce
}

// Result is the structured record emitted when the difficulty ceiling is
// reached.
type Result struct {
	SessionID      string  `json:"session_id"`
	Hash           string  `json:"hash"`
	Nonce          string  `json:"nonce"`
	Difficulty     int     `json:"difficulty"`
	Blocks         int64   `json:"blocks"`
	HashesTried    uint64  `json:"hashes_tried"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Stats is a point-in-time snapshot of session throughput. It is safe to
// read after Coordinator.Run has returned.
type Stats struct {
	HashesTried    uint64
	BlocksAccepted int64
	Elapsed        time.Duration
}
