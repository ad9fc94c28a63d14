package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rolfl/otgw"
)

// DecodeCommand prints the fields of raw frames given on the command line,
// e.g. `otcli decode 0x80000300 0xC003030A`.
type DecodeCommand struct {
	Args struct {
		Frames []string `positional-arg-name:"frame" required:"1"`
	} `positional-args:"true"`
}

func (cmd *DecodeCommand) Execute(args []string) error {
	for _, arg := range cmd.Args.Frames {
		raw, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(arg), "0x"), 16, 32)
		if err != nil {
			return fmt.Errorf("%q is not a 32-bit hex frame: %w", arg, err)
		}
		f := otgw.Frame(raw)
		parity := "ok"
		if !f.ValidParity() {
			parity = "BAD"
		}
		fmt.Printf("0x%08X  %-15v id=%-3d value=0x%04X (u16=%v s16=%v f8.8=%.2f hb=%v lb=%v) parity=%v\n",
			raw, f.Type(), int(f.ID()), f.Value(), f.Value(), f.Int16(), f.Float(), f.HighByte(), f.LowByte(), parity)
	}
	return nil
}
