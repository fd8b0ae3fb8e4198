package bitgrind

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// hashHexLen is the width of a hex-encoded digest.
const hashHexLen = HashBits / 4

// ErrNoChain is returned by Resume when the chain file holds no recorded
// blocks yet.
var ErrNoChain = errors.New("chain file has no recorded blocks")

// Ledger is the append-only local record of accepted blocks.
//
// Format: line 1 is the identity; every further line is the exact
// previousHash+identity+nonce concatenation the hasher consumed for that
// block, in chain order. Because the line is the hash preimage, resuming
// never trusts stored difficulty: it is recomputed from the line itself.
type Ledger struct {
	path     string
	identity string
	file     *os.File
	blocks   int
	lastLine string
}

// OpenLedger opens or creates the chain file at path. An existing file must
// carry the same identity on its first line and an unbroken hash linkage
// between consecutive blocks.
func OpenLedger(path, identity string) (*Ledger, error) {
	if identity == "" || strings.ContainsAny(identity, "\r\n") {
		return nil, errors.New("invalid ledger identity")
	}
	l := &Ledger{path: path, identity: identity}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "reading chain file %s", path)
	}
	existed := err == nil
	if existed {
		if err := l.parse(string(data)); err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening chain file %s", path)
	}
	l.file = file

	if !existed {
		if err := l.writeLine(identity); err != nil {
			file.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *Ledger) parse(data string) error {
	lines := strings.Split(strings.TrimRight(data, "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return errors.Errorf("chain file %s is missing its identity line", l.path)
	}
	if lines[0] != l.identity {
		return errors.Errorf("chain file %s belongs to identity %q, not %q", l.path, lines[0], l.identity)
	}

	prefixLen := hashHexLen + len(l.identity)
	blockLines := lines[1:]
	for i, line := range blockLines {
		if len(line) <= prefixLen ||
			!IsHexHash(line[:hashHexLen]) ||
			line[hashHexLen:prefixLen] != l.identity {
			return errors.Errorf("chain file %s: malformed block on line %d", l.path, i+2)
		}
		if i > 0 {
			prevHash, _ := ScoreLine(blockLines[i-1])
			if line[:hashHexLen] != prevHash {
				return errors.Errorf("chain file %s: hash linkage broken on line %d", l.path, i+2)
			}
		}
	}

	l.blocks = len(blockLines)
	if l.blocks > 0 {
		l.lastLine = blockLines[l.blocks-1]
	}
	return nil
}

func (l *Ledger) writeLine(line string) error {
	if _, err := l.file.WriteString(line + "\n"); err != nil {
		return errors.Wrapf(err, "writing chain file %s", l.path)
	}
	return errors.Wrapf(l.file.Sync(), "syncing chain file %s", l.path)
}

// Append records a block the ledger service confirmed. The block must
// extend the current tip.
func (l *Ledger) Append(b *Block) error {
	if b.Identity != l.identity {
		return errors.Errorf("block identity %q does not match ledger identity %q", b.Identity, l.identity)
	}
	if l.lastLine != "" {
		tipHash, _ := ScoreLine(l.lastLine)
		if b.Previous != tipHash {
			return errors.Errorf("block with previous %s does not extend the chain tip %s", b.Previous, tipHash)
		}
	}

	line := b.Line()
	if err := l.writeLine(line); err != nil {
		return err
	}
	l.blocks++
	l.lastLine = line
	return nil
}

// Resume reconstructs the chain tip pointer from the last recorded block:
// the hash of the final line becomes the pointer's previous hash and its
// leading-zero-bit count the pointer's difficulty.
func (l *Ledger) Resume() (HashPointer, error) {
	if l.lastLine == "" {
		return HashPointer{}, ErrNoChain
	}
	hash, difficulty := ScoreLine(l.lastLine)
	nonce := l.lastLine[hashHexLen+len(l.identity):]
	return HashPointer{PreviousHash: hash, Nonce: nonce, Difficulty: difficulty}, nil
}

// Blocks returns the number of recorded blocks.
func (l *Ledger) Blocks() int { return l.blocks }

// Identity returns the identity recorded on the file's first line.
func (l *Ledger) Identity() string { return l.identity }

// Close closes the underlying file.
func (l *Ledger) Close() error {
	return errors.Wrapf(l.file.Close(), "closing chain file %s", l.path)
}
