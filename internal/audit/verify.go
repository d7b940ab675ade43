package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ppiankov/novaledger/internal/ledger"
)

// maxLineSize bounds a single exported entry.
const maxLineSize = 16 << 20

// VerifyResult holds the outcome of verifying an export file.
type VerifyResult struct {
	ledger.VerifyResult
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify re-hashes every entry of a JSONL export and checks each link,
// without a database. An empty file is not a valid ledger.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{
			VerifyResult: ledger.VerifyResult{Message: fmt.Sprintf("open: %v", err)},
			Error:        fmt.Sprintf("open: %v", err),
		}
	}
	defer f.Close()
	return VerifyReader(f)
}

// VerifyReader is Verify over an already open export.
func VerifyReader(r io.Reader) VerifyResult {
	scanner := newScanner(r)
	var chain ledger.Chain
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		var l Line
		if err := json.Unmarshal(raw, &l); err != nil {
			msg := fmt.Sprintf("parse error: %v", err)
			return VerifyResult{
				VerifyResult: ledger.VerifyResult{Verified: chain.Len(), Message: msg},
				Lines:        lineNum,
				Error:        msg,
				ErrorLine:    lineNum,
			}
		}
		var f *ledger.IntegrityError
		if e, err := l.Entry(); err != nil {
			f = chain.Reject(l.Sequence, l.PreviousHash, l.EntryHash, err)
		} else {
			f = chain.Add(e)
		}
		if f != nil {
			return VerifyResult{
				VerifyResult: chain.Result(),
				Lines:        lineNum,
				Error:        f.Detail,
				ErrorLine:    lineNum,
			}
		}
	}

	if err := scanner.Err(); err != nil {
		msg := fmt.Sprintf("scan: %v", err)
		return VerifyResult{
			VerifyResult: ledger.VerifyResult{Verified: chain.Len(), Message: msg},
			Lines:        lineNum,
			Error:        msg,
		}
	}

	out := VerifyResult{VerifyResult: chain.Result(), Lines: lineNum}
	if !out.Valid {
		out.Error = out.Message
	}
	return out
}

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return s
}
