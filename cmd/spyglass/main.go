package main

import "github.com/spyglass-dev/spyglass/internal/cmd"

func main() {
	cmd.Execute()
}
