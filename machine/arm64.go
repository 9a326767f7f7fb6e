package machine

import (
	"strconv"

	"github.com/twitchyliquid64/golang-asm/obj/arm64"
)

// ARM64 returns the aarch64 AAPCS description. R18 is the platform register
// and stays reserved; SP, FP (R29) and LR (R30) are not listed.
func ARM64() *Description {
	var regs []Register
	intCodes := []int16{
		arm64.REG_R0, arm64.REG_R1, arm64.REG_R2, arm64.REG_R3,
		arm64.REG_R4, arm64.REG_R5, arm64.REG_R6, arm64.REG_R7,
		arm64.REG_R8, arm64.REG_R9, arm64.REG_R10, arm64.REG_R11,
		arm64.REG_R12, arm64.REG_R13, arm64.REG_R14, arm64.REG_R15,
		arm64.REG_R16, arm64.REG_R17, arm64.REG_R18, arm64.REG_R19,
		arm64.REG_R20, arm64.REG_R21, arm64.REG_R22, arm64.REG_R23,
		arm64.REG_R24, arm64.REG_R25, arm64.REG_R26, arm64.REG_R27,
		arm64.REG_R28,
	}
	for i, c := range intCodes {
		regs = append(regs, Register{Name: regName("R", i), Code: c, Kind: ClassInt})
	}
	floatCodes := []int16{
		arm64.REG_F0, arm64.REG_F1, arm64.REG_F2, arm64.REG_F3,
		arm64.REG_F4, arm64.REG_F5, arm64.REG_F6, arm64.REG_F7,
		arm64.REG_F8, arm64.REG_F9, arm64.REG_F10, arm64.REG_F11,
		arm64.REG_F12, arm64.REG_F13, arm64.REG_F14, arm64.REG_F15,
		arm64.REG_F16, arm64.REG_F17, arm64.REG_F18, arm64.REG_F19,
		arm64.REG_F20, arm64.REG_F21, arm64.REG_F22, arm64.REG_F23,
		arm64.REG_F24, arm64.REG_F25, arm64.REG_F26, arm64.REG_F27,
		arm64.REG_F28, arm64.REG_F29, arm64.REG_F30, arm64.REG_F31,
	}
	for i, c := range floatCodes {
		regs = append(regs, Register{Name: regName("F", i), Code: c, Kind: ClassFloat})
	}

	var calleeSaved RegMask
	for i := 19; i <= 28; i++ { // R19-R28
		calleeSaved |= Bit(i)
	}
	for i := 8; i <= 15; i++ { // F8-F15 (low 64 bits only per AAPCS)
		calleeSaved |= Bit(29 + i)
	}
	reserved := Bit(18) // platform register

	d, err := New("arm64", regs, calleeSaved, reserved, false, ShapeWideUpperSave)
	if err != nil {
		panic(err)
	}
	return d
}

func regName(prefix string, n int) string {
	return prefix + strconv.Itoa(n)
}
