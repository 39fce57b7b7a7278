// Package model provides capability-based model selection for the
// Generation stage's LLM calls. Instead of hardcoding a model name, a
// request specifies a capability ("contract_generation",
// "constructor_args") and the registry resolves it to an endpoint, with a
// fallback chain for when the preferred endpoint is unavailable.
package model

// Capability represents a semantic capability an LLM call needs, rather
// than a specific model name.
type Capability string

const (
	// CapabilityContractGeneration is the main Solidity-generation call:
	// spec.md §4.4.1 step 3, the long-context, highest-quality call in the
	// pipeline.
	CapabilityContractGeneration Capability = "contract_generation"

	// CapabilityConstructorArgs is the short constructor-value-derivation
	// call from spec.md §4.4.1 step 6: cheap, low-latency, tolerant of a
	// weaker model since a parse failure just falls back to defaults.
	CapabilityConstructorArgs Capability = "constructor_args"
)

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityContractGeneration, CapabilityConstructorArgs:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	capVal := Capability(s)
	if capVal.IsValid() {
		return capVal
	}
	return ""
}
