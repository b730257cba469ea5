package protocol

import "fmt"

// Frame wraps cmd in a Marlin line-number/checksum frame:
// "N<lineNo> <cmd>*<checksum>", where checksum is the XOR of every byte in
// "N<lineNo> <cmd>".
func Frame(lineNo uint32, cmd string) string {
	body := fmt.Sprintf("N%d %s", lineNo, cmd)
	var checksum byte
	for i := 0; i < len(body); i++ {
		checksum ^= body[i]
	}
	return fmt.Sprintf("%s*%d", body, checksum)
}
