package control

import "github.com/ardnew/prucam/sensor"

func banked(a, b uint16) [2]uint16 { return [2]uint16{a, b} }

func single(r uint16) [2]uint16 { return [2]uint16{r, r} }

func bits(name string, reg uint16, shiftA, shiftB, width uint) *Field {
	return &Field{Name: name, Kind: KindBits, Reg: single(reg), Shift: [2]uint{shiftA, shiftB}, Bits: width}
}

func word(name string, reg [2]uint16) *Field {
	return &Field{Name: name, Kind: KindRegister, Reg: reg, Bits: 16}
}

func gain(name string, a, b uint16) *Field {
	return &Field{Name: name, Kind: KindRegister, Reg: banked(a, b), Bits: 8, Limit: 0xFF}
}

// Fields returns a fresh copy of every setting the sensor exposes.
func Fields() []*Field {
	aeEnable := bits("ae_enable", sensor.RegAECtrl, 0, 0, 1)
	aeEnable.after = func(bus sensor.Bus, v uint16) error {
		if v == 0 {
			return nil
		}
		// Auto exposure requires unbinned readout.
		return bus.WriteReg(sensor.RegDigitalBinning, 0)
	}

	return []*Field{
		bits("context", sensor.RegDigitalTest, contextBit, contextBit, 1),

		{
			Name: "x_size", Kind: KindSpan,
			Reg:   banked(sensor.RegXAddrEnd, sensor.RegXAddrEndCB),
			Start: banked(sensor.RegXAddrStart, sensor.RegXAddrStartCB),
			Bits:  16, Limit: 0x07FF,
		},
		{
			Name: "y_size", Kind: KindSpan,
			Reg:   banked(sensor.RegYAddrEnd, sensor.RegYAddrEndCB),
			Start: banked(sensor.RegYAddrStart, sensor.RegYAddrStartCB),
			Bits:  16, Limit: 0x03FF,
		},

		word("coarse_time", banked(sensor.RegCoarseIntegration, sensor.RegCoarseIntegCB)),
		word("fine_time", banked(sensor.RegFineIntegration, sensor.RegFineIntegCB)),
		word("frame_len_lines", banked(sensor.RegFrameLenLines, sensor.RegFrameLenLinesCB)),
		{Name: "y_odd_inc", Kind: KindRegister, Reg: banked(sensor.RegYOddInc, sensor.RegYOddIncCB), Bits: 7, Limit: 0x7F},

		gain("green1_gain", sensor.RegGreen1Gain, sensor.RegGreen1GainCB),
		gain("blue_gain", sensor.RegBlueGain, sensor.RegBlueGainCB),
		gain("red_gain", sensor.RegRedGain, sensor.RegRedGainCB),
		gain("green2_gain", sensor.RegGreen2Gain, sensor.RegGreen2GainCB),
		gain("global_gain", sensor.RegGlobalGain, sensor.RegGlobalGainCB),

		bits("analog_gain", sensor.RegDigitalTest, 4, 8, 2),
		bits("digital_binning", sensor.RegDigitalBinning, 0, 4, 2),

		aeEnable,
		bits("ae_ag_en", sensor.RegAECtrl, 1, 1, 1),
		bits("ae_dg_en", sensor.RegAECtrl, 4, 4, 1),
		bits("ae_min_ana_gain", sensor.RegAECtrl, 5, 5, 2),

		word("ae_roi_x_start_offset", single(sensor.RegAERoiXStart)),
		word("ae_roi_y_start_offset", single(sensor.RegAERoiYStart)),
		word("ae_roi_x_size", single(sensor.RegAERoiXSize)),
		word("ae_roi_y_size", single(sensor.RegAERoiYSize)),
		word("ae_luma_target", single(sensor.RegAELumaTarget)),
		word("ae_min_ev_step", single(sensor.RegAEMinEVStep)),
		word("ae_max_ev_step", single(sensor.RegAEMaxEVStep)),
		word("ae_damp_offset", single(sensor.RegAEDampOffset)),
		word("ae_damp_gain", single(sensor.RegAEDampGain)),
		word("ae_damp_max", single(sensor.RegAEDampMax)),
		word("ae_min_exposure", single(sensor.RegAEMinExposure)),
		word("ae_max_exposure", single(sensor.RegAEMaxExposure)),
		word("ae_ag_exposure_hi", single(sensor.RegAEAGExposureHi)),
		word("ae_ag_exposure_lo", single(sensor.RegAEAGExposureLo)),
		word("ae_dark_cur_thresh", single(sensor.RegAEDarkCurThresh)),
	}
}
