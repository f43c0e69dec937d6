package main

import "github.com/thunderkeep/thunderkeep/cmd/thunderkeep/cmd"

func main() {
	cmd.Execute()
}
