package common

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errEmptyNumber = errors.New("empty value")

// ParseChainID parses a chain id given in decimal or as 0x-prefixed hex, e.g. "42161" or "0xa4b1".
func ParseChainID(s string) (uint64, error) {
	return parseNumber("chain id", s)
}

// ParseBlockNumber parses a block number given in decimal or as 0x-prefixed hex.
func ParseBlockNumber(s string) (uint64, error) {
	return parseNumber("block number", s)
}

func parseNumber(what, s string) (uint64, error) {
	str := strings.TrimSpace(s)
	base := 10

	if rest, ok := strings.CutPrefix(strings.ToLower(str), "0x"); ok {
		str = rest
		base = 16
	}
	if str == "" {
		return 0, fmt.Errorf("invalid %s %q: %w", what, s, errEmptyNumber)
	}

	n, err := strconv.ParseUint(str, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: expected decimal or 0x-prefixed hex", what, s)
	}
	return n, nil
}

const bytesInMB = 1024 * 1024

func MBToBytes(mb uint64) uint64 {
	return mb * bytesInMB
}

func BytesToMB(bytes uint64) uint64 {
	return bytes / bytesInMB
}

func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
