package osdp

// CapFunctionCode identifies an entry in a PD's capability table
// (spec.md §3/§4.4). The numbering matches the OSDP capability function
// codes recovered from original_source/include/drivers/osdp.h.
type CapFunctionCode byte

const (
	CapUnused CapFunctionCode = iota
	CapContactStatusMonitoring
	CapOutputControl
	CapCardDataFormat
	CapReaderLEDControl
	CapReaderAudibleOutput
	CapReaderTextOutput
	CapTimeKeeping
	CapCheckCharacterSupport
	CapCommunicationSecurity
	CapReceiveBufferSize
	CapLargestCombinedMessageSize
	CapSmartCardSupport
	CapReaders
	CapBiometrics
	CapSentinel // one past the last valid function code; bounds guard only
)

// Capability is one populated slot of a PD's capability table.
type Capability struct {
	FunctionCode     CapFunctionCode
	ComplianceLevel  byte
	NumItems         byte
}

// Identity is the static PDID record a PD reports in answer to CMD_ID.
type Identity struct {
	VendorCode      uint32 // 24 bits used, little-endian on the wire
	Model           byte
	Version         byte
	SerialNumber    uint32 // 4 bytes, little-endian on the wire
	FirmwareVersion uint32 // 24 bits used, big-endian on the wire (major/minor/build)
}

// capTable is the dense function-code-indexed capability array
// (spec.md Design Note (D)): lookups at reply-build time are by index, and
// the function code space is closed, so a fixed-size array with a
// FunctionCode==0 sentinel for "unpopulated" beats a map here.
type capTable [CapSentinel]Capability

func newCapTable(caps []Capability) capTable {
	var t capTable
	for _, c := range caps {
		if c.FunctionCode <= CapUnused || c.FunctionCode >= CapSentinel {
			continue
		}
		t[c.FunctionCode] = c
	}
	return t
}
