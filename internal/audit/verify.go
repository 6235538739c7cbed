package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify reads the log and validates the hash chain. Returns Valid=true
// if the chain is intact, or details about the first broken link.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	var prevLine []byte

	for scanner.Scan() {
		lineNum++
		line := append([]byte(nil), scanner.Bytes()...)

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return VerifyResult{
				Error:     fmt.Sprintf("parse error: %v", err),
				ErrorLine: lineNum,
			}
		}

		if lineNum == 1 {
			if rec.PrevHash != GenesisHash {
				return VerifyResult{
					Error:     fmt.Sprintf("first record prev_hash is %q, expected genesis hash", rec.PrevHash),
					ErrorLine: 1,
				}
			}
		} else if rec.PrevHash != HashLine(prevLine) {
			return VerifyResult{
				Error:     fmt.Sprintf("hash mismatch: expected %s, got %s", HashLine(prevLine), rec.PrevHash),
				ErrorLine: lineNum,
			}
		}

		prevLine = line
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}
	return VerifyResult{Valid: true, Lines: lineNum}
}
