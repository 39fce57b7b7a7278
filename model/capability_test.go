package model

import "testing"

func TestCapabilityIsValid(t *testing.T) {
	tests := []struct {
		cap      Capability
		expected bool
	}{
		{CapabilityContractGeneration, true},
		{CapabilityConstructorArgs, true},
		{Capability("summarizing"), false},
		{Capability(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.cap), func(t *testing.T) {
			got := tt.cap.IsValid()
			if got != tt.expected {
				t.Errorf("Capability(%q).IsValid() = %v, want %v", tt.cap, got, tt.expected)
			}
		})
	}
}

func TestParseCapability(t *testing.T) {
	tests := []struct {
		input    string
		expected Capability
	}{
		{"contract_generation", CapabilityContractGeneration},
		{"constructor_args", CapabilityConstructorArgs},
		{"invalid", ""},
		{"", ""},
		{"CONTRACT_GENERATION", ""}, // case-sensitive
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseCapability(tt.input)
			if got != tt.expected {
				t.Errorf("ParseCapability(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCapabilityString(t *testing.T) {
	tests := []struct {
		cap      Capability
		expected string
	}{
		{CapabilityContractGeneration, "contract_generation"},
		{CapabilityConstructorArgs, "constructor_args"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := tt.cap.String()
			if got != tt.expected {
				t.Errorf("Capability.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}
