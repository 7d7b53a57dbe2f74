package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goran-ethernal/ChainProjector/internal/logger"
)

const maxEnvelopeSize = 4 * 1024 * 1024

// File replays the envelopes of one chain from a JSON-lines file.
// Envelopes of other chains are skipped; io.EOF is returned at the end of the file.
type File struct {
	f       *os.File
	scanner *bufio.Scanner
	chainID uint64
	line    int
	log     *logger.Logger
}

var _ Source = (*File)(nil)

// NewFile opens path for replay of chainID.
func NewFile(path string, chainID uint64, log *logger.Logger) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open envelope file: %w", err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEnvelopeSize) //nolint:mnd

	log.Infof("replaying chain %d from %s", chainID, path)
	return &File{f: f, scanner: scanner, chainID: chainID, log: log}, nil
}

// Next implements Source.
func (s *File) Next(ctx context.Context) (Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Envelope{}, err
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Envelope{}, fmt.Errorf("read envelope file: %w", err)
			}
			return Envelope{}, io.EOF
		}
		s.line++

		data := s.scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return Envelope{}, fmt.Errorf("decode envelope at line %d: %w", s.line, err)
		}
		if env.ChainID != s.chainID {
			continue
		}
		return env, nil
	}
}

// Close closes the file.
func (s *File) Close() error {
	return s.f.Close()
}
