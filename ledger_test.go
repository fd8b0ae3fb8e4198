package bitgrind

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "chain.dat")
}

func TestLedgerAppendResume(t *testing.T) {
	t.Parallel()

	path := chainFile(t)
	ledger, err := OpenLedger(path, "alice")
	require.NoError(t, err)

	_, err = ledger.Resume()
	assert.ErrorIs(t, err, ErrNoChain)

	prev := strings.Repeat("0", 64)
	hash1, diff1 := Score(prev, "alice", "42")
	require.NoError(t, ledger.Append(&Block{
		Previous: prev, Identity: "alice", Nonce: "42", Hash: hash1, Difficulty: diff1,
	}))

	hash2, diff2 := Score(hash1, "alice", "7")
	require.NoError(t, ledger.Append(&Block{
		Previous: hash1, Identity: "alice", Nonce: "7", Hash: hash2, Difficulty: diff2,
	}))

	ptr, err := ledger.Resume()
	require.NoError(t, err)
	assert.Equal(t, hash2, ptr.PreviousHash)
	assert.Equal(t, "7", ptr.Nonce)
	assert.Equal(t, diff2, ptr.Difficulty)
	assert.Equal(t, 2, ledger.Blocks())
	require.NoError(t, ledger.Close())

	// Reopen and resume from disk.
	reopened, err := OpenLedger(path, "alice")
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 2, reopened.Blocks())
	ptr2, err := reopened.Resume()
	require.NoError(t, err)
	assert.Equal(t, ptr, ptr2)
}

func TestLedgerRecomputesDifficultyOnResume(t *testing.T) {
	t.Parallel()

	// The file never stores a difficulty, so a resumed pointer's difficulty
	// is always the recomputed leading-zero-bit count of the line hash.
	path := chainFile(t)
	prev := strings.Repeat("0", 64)
	line := prev + "alice" + "31337"
	require.NoError(t, os.WriteFile(path, []byte("alice\n"+line+"\n"), 0644))

	ledger, err := OpenLedger(path, "alice")
	require.NoError(t, err)
	defer ledger.Close()

	ptr, err := ledger.Resume()
	require.NoError(t, err)

	wantHash, wantDiff := ScoreLine(line)
	assert.Equal(t, wantHash, ptr.PreviousHash)
	assert.Equal(t, wantDiff, ptr.Difficulty)
	assert.Equal(t, "31337", ptr.Nonce)
}

func TestLedgerIdentityMismatch(t *testing.T) {
	t.Parallel()

	path := chainFile(t)
	ledger, err := OpenLedger(path, "alice")
	require.NoError(t, err)
	require.NoError(t, ledger.Close())

	_, err = OpenLedger(path, "bob")
	assert.Error(t, err)
}

func TestLedgerRejectsNonExtendingBlock(t *testing.T) {
	t.Parallel()

	ledger, err := OpenLedger(chainFile(t), "alice")
	require.NoError(t, err)
	defer ledger.Close()

	prev := strings.Repeat("0", 64)
	hash1, diff1 := Score(prev, "alice", "1")
	require.NoError(t, ledger.Append(&Block{
		Previous: prev, Identity: "alice", Nonce: "1", Hash: hash1, Difficulty: diff1,
	}))

	// A block pointing at anything but the tip hash must be refused.
	err = ledger.Append(&Block{
		Previous: strings.Repeat("f", 64), Identity: "alice", Nonce: "2",
	})
	assert.Error(t, err)

	// So must a block for a different identity.
	err = ledger.Append(&Block{
		Previous: hash1, Identity: "mallory", Nonce: "2",
	})
	assert.Error(t, err)
}

func TestLedgerDetectsBrokenLinkage(t *testing.T) {
	t.Parallel()

	path := chainFile(t)
	prev := strings.Repeat("0", 64)
	lineOne := prev + "alice" + "1"
	// The second line claims a previous hash that is not the hash of the
	// first line.
	lineTwo := strings.Repeat("e", 64) + "alice" + "2"
	require.NoError(t, os.WriteFile(path, []byte("alice\n"+lineOne+"\n"+lineTwo+"\n"), 0644))

	_, err := OpenLedger(path, "alice")
	assert.Error(t, err)
}

func TestLedgerMalformedLines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{"empty file", ""},
		{"short block line", "alice\nabc\n"},
		{"identity mismatch inside line", "alice\n" + strings.Repeat("0", 64) + "bob" + "1\n"},
		{"non-hex previous", "alice\n" + strings.Repeat("z", 64) + "alice" + "1\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := chainFile(t)
			require.NoError(t, os.WriteFile(path, []byte(tt.data), 0644))
			_, err := OpenLedger(path, "alice")
			assert.Error(t, err)
		})
	}
}
