package main

import (
	"os"

	"github.com/ll2l/indexcopy/cmd"
)

func main() {
	os.Exit(cmd.Run())
}
