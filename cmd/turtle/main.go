package main

import "github.com/rustyeddy/turtle/internal/cli"

func main() {
	cli.Execute()
}
