package services

import (
	"fmt"

	clamd "github.com/dutchcoders/go-clamd"
	"github.com/rs/zerolog"

	"github.com/driftlock/filestore/internal/models"
)

// MarkMalware is the sensitive mark added when the scanner flags a file.
const MarkMalware = "malware"

// Scanner classifies staged content via ClamAV. A nil *Scanner skips
// scanning entirely.
type Scanner struct {
	address string
	log     zerolog.Logger
}

// NewScanner returns a scanner talking to the given clamd address
// (e.g. "tcp://localhost:3310").
func NewScanner(address string, log zerolog.Logger) *Scanner {
	return &Scanner{address: address, log: log}
}

// Scan runs the staged file through clamd and returns the sensitive marks
// to add, usually none.
func (s *Scanner) Scan(path string) (models.StringList, error) {
	if s == nil {
		return nil, nil
	}
	c := clamd.NewClamd(s.address)
	results, err := c.ScanFile(path)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}

	var marks models.StringList
	for res := range results {
		if res.Status == clamd.RES_FOUND {
			s.log.Warn().Str("path", path).Str("signature", res.Description).Msg("malware detected")
			if !marks.Contains(MarkMalware) {
				marks = append(marks, MarkMalware)
			}
		}
	}
	return marks, nil
}
