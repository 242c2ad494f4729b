package main

import (
	"github.com/actionforge/flowrun/cmd"
	"github.com/actionforge/flowrun/utils"
)

func main() {
	utils.ApplyLogLevel()
	cmd.Execute()
}
