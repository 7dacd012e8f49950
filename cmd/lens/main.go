package main

import "github.com/tjfontaine/a2a-lens/internal/cli"

func main() {
	cli.Execute()
}
