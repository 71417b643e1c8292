package main

import "github.com/vietddude/impactwatcher/internal/cli"

func main() {
	cli.Execute()
}
