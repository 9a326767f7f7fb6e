package machine

import "github.com/twitchyliquid64/golang-asm/obj/x86"

// AMD64 returns the x86-64 SysV description. SP and BP are not listed at
// all: the frame owns them and they never participate in allocation.
func AMD64() *Description {
	regs := []Register{
		{Name: "AX", Code: x86.REG_AX, Kind: ClassInt},
		{Name: "CX", Code: x86.REG_CX, Kind: ClassInt},
		{Name: "DX", Code: x86.REG_DX, Kind: ClassInt},
		{Name: "BX", Code: x86.REG_BX, Kind: ClassInt},
		{Name: "SI", Code: x86.REG_SI, Kind: ClassInt},
		{Name: "DI", Code: x86.REG_DI, Kind: ClassInt},
		{Name: "R8", Code: x86.REG_R8, Kind: ClassInt},
		{Name: "R9", Code: x86.REG_R9, Kind: ClassInt},
		{Name: "R10", Code: x86.REG_R10, Kind: ClassInt},
		{Name: "R11", Code: x86.REG_R11, Kind: ClassInt},
		{Name: "R12", Code: x86.REG_R12, Kind: ClassInt},
		{Name: "R13", Code: x86.REG_R13, Kind: ClassInt},
		{Name: "R14", Code: x86.REG_R14, Kind: ClassInt},
		{Name: "R15", Code: x86.REG_R15, Kind: ClassInt},
		{Name: "X0", Code: x86.REG_X0, Kind: ClassFloat},
		{Name: "X1", Code: x86.REG_X1, Kind: ClassFloat},
		{Name: "X2", Code: x86.REG_X2, Kind: ClassFloat},
		{Name: "X3", Code: x86.REG_X3, Kind: ClassFloat},
		{Name: "X4", Code: x86.REG_X4, Kind: ClassFloat},
		{Name: "X5", Code: x86.REG_X5, Kind: ClassFloat},
		{Name: "X6", Code: x86.REG_X6, Kind: ClassFloat},
		{Name: "X7", Code: x86.REG_X7, Kind: ClassFloat},
		{Name: "X8", Code: x86.REG_X8, Kind: ClassFloat},
		{Name: "X9", Code: x86.REG_X9, Kind: ClassFloat},
		{Name: "X10", Code: x86.REG_X10, Kind: ClassFloat},
		{Name: "X11", Code: x86.REG_X11, Kind: ClassFloat},
		{Name: "X12", Code: x86.REG_X12, Kind: ClassFloat},
		{Name: "X13", Code: x86.REG_X13, Kind: ClassFloat},
		{Name: "X14", Code: x86.REG_X14, Kind: ClassFloat},
		{Name: "X15", Code: x86.REG_X15, Kind: ClassFloat},
	}
	// SysV: BX and R12-R15 survive calls; no float register does.
	calleeSaved := Bit(3) | Bit(10) | Bit(11) | Bit(12) | Bit(13)
	d, err := New("amd64", regs, calleeSaved, 0, true, ShapeWideUpperSave)
	if err != nil {
		panic(err)
	}
	return d
}
