package main

import (
	"github.com/blocq/blocq-server/internal/cli"
)

func main() {
	cli.Execute()
}
