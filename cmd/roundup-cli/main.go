package main

import "roundup-core/cmd/roundup-cli/cmd"

func main() {
	cmd.Execute()
}
