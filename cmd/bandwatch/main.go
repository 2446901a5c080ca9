package main

import "github.com/ppiankov/bandwatch/internal/cli"

func main() {
	cli.Execute()
}
