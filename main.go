package main

import (
	"github.com/entrascope/entrascope/cmd"
)

func main() {
	cmd.Execute()
}
