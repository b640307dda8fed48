package main

import "github.com/filipexyz/beacon/internal/cli/cmd"

func main() {
	cmd.Execute()
}
