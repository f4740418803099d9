// Command vmsim boots the virtual memory system and runs programs on it.
package main

import "github.com/sarchlab/vmswap/vmsim/cmd"

func main() {
	cmd.Execute()
}
