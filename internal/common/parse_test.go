package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNumbers(t *testing.T) {
	tests := []struct {
		name    string
		parse   func(string) (uint64, error)
		input   string
		want    uint64
		wantErr string
	}{
		{name: "decimal block number", parse: ParseBlockNumber, input: "12369621", want: 12369621},
		{name: "hex chain id", parse: ParseChainID, input: "0xa4b1", want: 42161},
		{name: "uppercase hex", parse: ParseBlockNumber, input: "0XDEADBEEF", want: 0xDEADBEEF},
		{name: "surrounding spaces", parse: ParseChainID, input: " 137 ", want: 137},
		{name: "garbage decimal", parse: ParseBlockNumber, input: "12abc", wantErr: `invalid block number "12abc"`},
		{name: "garbage hex", parse: ParseChainID, input: "0xZZ", wantErr: `invalid chain id "0xZZ"`},
		{name: "bare prefix", parse: ParseChainID, input: "0x", wantErr: "empty value"},
		{name: "empty", parse: ParseBlockNumber, input: "", wantErr: "empty value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.parse(tt.input)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestToLowerWithTrim(t *testing.T) {
	require.Equal(t, "debug", ToLowerWithTrim("  DEBUG \n"))
	require.Equal(t, "", ToLowerWithTrim("   "))
}

func TestBytesToMB(t *testing.T) {
	require.Equal(t, uint64(3), BytesToMB(MBToBytes(3)))
	require.Equal(t, uint64(0), BytesToMB(1024))
}
