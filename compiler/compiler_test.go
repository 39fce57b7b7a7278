package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, "0.8.27", ExtractVersion("pragma solidity 0.8.27;\ncontract C {}"))
	assert.Equal(t, "0.8.20", ExtractVersion("pragma solidity ^0.8.20;\ncontract C {}"))
	assert.Equal(t, DefaultSolidityVersion, ExtractVersion("contract C {}"))
}

func TestPathResolver_ExactMatch(t *testing.T) {
	r := PathResolver{Binaries: map[string]string{"0.8.27": "/usr/bin/solc-0.8.27"}}
	path, ok := r.Resolve("0.8.27")
	assert.True(t, ok)
	assert.Equal(t, "/usr/bin/solc-0.8.27", path)
}

func TestPathResolver_FallsBackToNewestAboveMinimum(t *testing.T) {
	r := PathResolver{Binaries: map[string]string{
		"0.8.19": "/usr/bin/solc-0.8.19",
		"0.8.24": "/usr/bin/solc-0.8.24",
	}}
	path, ok := r.Resolve("0.8.30")
	assert.True(t, ok)
	assert.Equal(t, "/usr/bin/solc-0.8.24", path)
}

func TestPathResolver_NoneAboveMinimum(t *testing.T) {
	r := PathResolver{Binaries: map[string]string{"0.8.10": "/usr/bin/solc-0.8.10"}}
	_, ok := r.Resolve("0.8.30")
	assert.False(t, ok)
}
