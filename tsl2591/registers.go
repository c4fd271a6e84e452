package tsl2591

// Device identity and command framing.
const (
	Address    uint16 = 0x29 // Fixed 7-bit I2C address
	DeviceID   byte   = 0x50 // Value read back from RegDeviceID
	CommandBit byte   = 0xA0 // 1010 0000: bits 7 and 5 for 'command normal'

	WordBit  byte = 0x20 // 1 = read/write word rather than byte
	BlockBit byte = 0x10 // 1 = using block read/write
)

// ENABLE register flags.
const (
	EnablePowerOff byte = 0x00 // Flag for ENABLE register to disable
	EnablePowerOn  byte = 0x01 // Flag for ENABLE register to enable
	EnableAEN      byte = 0x02 // ALS Enable. Writing a one activates the ALS, writing a zero disables it.
	EnableAIEN     byte = 0x10 // ALS Interrupt Enable. Permits ALS interrupts, subject to the persist filter.
	EnableNPIEN    byte = 0x80 // No Persist Interrupt Enable. NP threshold conditions bypass the persist filter.

	enableAll = EnablePowerOn | EnableAEN | EnableAIEN | EnableNPIEN
)

// Register map
const (
	RegEnable           byte = 0x00 // Enable register
	RegControl          byte = 0x01 // Control register
	RegThresholdAILTL   byte = 0x04 // ALS low threshold lower byte
	RegThresholdAILTH   byte = 0x05 // ALS low threshold upper byte
	RegThresholdAIHTL   byte = 0x06 // ALS high threshold lower byte
	RegThresholdAIHTH   byte = 0x07 // ALS high threshold upper byte
	RegThresholdNPAILTL byte = 0x08 // No Persist ALS low threshold lower byte
	RegThresholdNPAILTH byte = 0x09 // No Persist ALS low threshold higher byte
	RegThresholdNPAIHTL byte = 0x0A // No Persist ALS high threshold lower byte
	RegThresholdNPAIHTH byte = 0x0B // No Persist ALS high threshold higher byte
	RegPersistFilter    byte = 0x0C // Interrupt persistence filter
	RegPackagePID       byte = 0x11 // Package Identification
	RegDeviceID         byte = 0x12 // Device Identification
	RegStatus           byte = 0x13 // Internal Status
	RegChan0Low         byte = 0x14 // Channel 0 data, low byte
	RegChan0High        byte = 0x15 // Channel 0 data, high byte
	RegChan1Low         byte = 0x16 // Channel 1 data, low byte
	RegChan1High        byte = 0x17 // Channel 1 data, high byte
)

// CONTROL register fields.
const (
	controlTimingMask byte = 0x07 // bits 0-2
	controlGainMask   byte = 0x30 // bits 4-5
)

// Lux coefficients, see the Adafruit TSL2591 library.
const (
	LuxDF    float64 = 408.0 // Lux coefficient
	LuxCoefB float64 = 1.64  // CH0 coefficient
	LuxCoefC float64 = 0.59  // CH1 coefficient A
	LuxCoefD float64 = 0.86  // CH2 coefficient B

	// Nano-scaled forms for the fixed point converter.
	nano         int64 = 1_000_000_000
	luxDFInt     int64 = 408
	luxCoefBNano int64 = 1_640_000_000
	luxCoefCNano int64 = 590_000_000
	luxCoefDNano int64 = 860_000_000
)

// Saturation thresholds, the 100ms mode saturates early.
const (
	overflow100MS uint16 = 36863
	overflowOther uint16 = 65535
)
