package main

import "github.com/vietddude/txrecover/internal/cli"

func main() {
	cli.Execute()
}
