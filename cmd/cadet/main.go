package main

import (
	"github.com/cadops/cadet/cmd/cadet/cmd"
)

func main() {
	cmd.Execute()
}
