package sensor

import (
	"fmt"

	"github.com/ardnew/prucam/pkg"
)

// DefaultAddress is the sensor's 7-bit bus address with SADDR low.
const DefaultAddress = 0x10

// AR013x register addresses.
const (
	RegChipVersion       = 0x3000
	RegYAddrStart        = 0x3002
	RegXAddrStart        = 0x3004
	RegYAddrEnd          = 0x3006
	RegXAddrEnd          = 0x3008
	RegFrameLenLines     = 0x300A
	RegLineLengthPck     = 0x300C
	RegCoarseIntegration = 0x3012
	RegFineIntegration   = 0x3014
	RegCoarseIntegCB     = 0x3016
	RegFineIntegCB       = 0x3018
	RegReset             = 0x301A
	RegDataPedestal      = 0x301E
	RegVTPixClkDiv       = 0x302A
	RegVTSysClkDiv       = 0x302C
	RegPrePLLClkDiv      = 0x302E
	RegPLLMultiplier     = 0x3030
	RegDigitalBinning    = 0x3032
	RegDarkControl       = 0x3044
	RegGreen1Gain        = 0x3056
	RegBlueGain          = 0x3058
	RegRedGain           = 0x305A
	RegGreen2Gain        = 0x305C
	RegGlobalGain        = 0x305E
	RegEmbeddedDataCtrl  = 0x3064
	RegTestPatternMode   = 0x3070
	RegOperationModeCtrl = 0x3082
	RegSeqDataPort       = 0x3086
	RegSeqCtrlPort       = 0x3088
	RegXAddrStartCB      = 0x308A
	RegYAddrStartCB      = 0x308C
	RegXAddrEndCB        = 0x308E
	RegYAddrEndCB        = 0x3090
	RegYOddInc           = 0x30A6
	RegYOddIncCB         = 0x30A8
	RegFrameLenLinesCB   = 0x30AA
	RegDigitalTest       = 0x30B0
	RegDigitalCtrl       = 0x30BA
	RegGreen1GainCB      = 0x30BC
	RegBlueGainCB        = 0x30BE
	RegRedGainCB         = 0x30C0
	RegGreen2GainCB      = 0x30C2
	RegGlobalGainCB      = 0x30C4
	RegColumnCorrection  = 0x30D4
	RegAECtrl            = 0x3100
	RegAELumaTarget      = 0x3102
	RegAEMinEVStep       = 0x3108
	RegAEMaxEVStep       = 0x310A
	RegAEDampOffset      = 0x310C
	RegAEDampGain        = 0x310E
	RegAEDampMax         = 0x3110
	RegAEMaxExposure     = 0x311C
	RegAEMinExposure     = 0x311E
	RegAEDarkCurThresh   = 0x3124
	RegAERoiXStart       = 0x3140
	RegAERoiYStart       = 0x3142
	RegAERoiXSize        = 0x3144
	RegAERoiYSize        = 0x3146
	RegAEAGExposureHi    = 0x3166
	RegAEAGExposureLo    = 0x3168
	RegHDRComp           = 0x31D0
)

// Model identifies a supported sensor.
type Model uint16

// Supported sensors, keyed by chip version.
const (
	ModelUnknown Model = 0
	ModelAR0130  Model = 0x2402
	ModelAR0134  Model = 0x2406
)

// String returns the part number.
func (m Model) String() string {
	switch m {
	case ModelAR0130:
		return "ar0130"
	case ModelAR0134:
		return "ar0134"
	default:
		return fmt.Sprintf("unknown(0x%04x)", uint16(m))
	}
}

// ParseModel returns the model with the given part number.
func ParseModel(s string) (Model, error) {
	switch s {
	case "ar0130", "AR0130":
		return ModelAR0130, nil
	case "ar0134", "AR0134":
		return ModelAR0134, nil
	}
	return ModelUnknown, fmt.Errorf("%w: %q", pkg.ErrUnknownSensor, s)
}

// Detect reads the chip version register and identifies the sensor.
func Detect(bus Bus) (Model, error) {
	v, err := bus.ReadReg(RegChipVersion)
	if err != nil {
		return ModelUnknown, err
	}
	switch m := Model(v); m {
	case ModelAR0130, ModelAR0134:
		pkg.LogInfo(pkg.ComponentSensor, "sensor detected", "model", m)
		return m, nil
	default:
		return ModelUnknown, fmt.Errorf("%w: chip version 0x%04x", pkg.ErrUnknownSensor, v)
	}
}
