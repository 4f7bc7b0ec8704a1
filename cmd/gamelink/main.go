package main

import "github.com/vietddude/gamelink/internal/cli"

func main() {
	cli.Execute()
}
