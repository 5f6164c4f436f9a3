package synth

import (
	"fmt"
	"math/rand"
	"strings"
)

// modbusConfig holds the default register-access values the generator falls
// back to when a field has no caller override.
var modbusConfig = struct {
	defaultSlaveID      int
	defaultFunctionCode []int
	defaultAddress      int
	defaultQuantity     int
}{
	defaultSlaveID:      1,
	defaultFunctionCode: []int{0x01, 0x03, 0x05},
	defaultAddress:      0,
	defaultQuantity:     1,
}

func modbusSlaveID(fuzz bool) string {
	if fuzz {
		return fmt.Sprintf("0x%02x", 1+rand.Intn(247))
	}
	return fmt.Sprintf("0x%02x", modbusConfig.defaultSlaveID)
}

func modbusFunctionCode(fuzz bool) string {
	if !fuzz {
		return fmt.Sprintf("0x%02x", modbusConfig.defaultFunctionCode[0])
	}
	pool := append([]int{}, modbusConfig.defaultFunctionCode...)
	pool = append(pool, rand.Intn(256))
	return fmt.Sprintf("0x%02x", pool[rand.Intn(len(pool))])
}

func modbusAddress(fuzz bool) string {
	if fuzz {
		return fmt.Sprintf("0x%04x", rand.Intn(0x10000))
	}
	return fmt.Sprintf("0x%04x", modbusConfig.defaultAddress)
}

// modbusQuantity caps at 125 for READ_HOLDING_REGISTERS_REQUEST (the
// protocol limit for that function) and 2000 for every other quantity field.
func modbusQuantity(state string, fuzz bool) string {
	if !fuzz {
		return fmt.Sprintf("0x%04x", modbusConfig.defaultQuantity)
	}
	max := 2000
	if strings.Contains(state, "READ_HOLDING_REGISTERS_REQUEST") {
		max = 125
	}
	return fmt.Sprintf("0x%04x", 1+rand.Intn(max))
}

func modbusCoilValue(fuzz bool) string {
	if fuzz && rand.Intn(2) == 0 {
		return "0x0000"
	}
	return "0xFF00"
}
