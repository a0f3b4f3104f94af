package main

import "github.com/laurelhq/laurel/internal/cli"

func main() {
	cli.Execute()
}
