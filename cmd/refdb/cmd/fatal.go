// Copyright © 2018 One Concern

package cmd

import (
	"log"
	"os"

	"github.com/fatih/color"
)

var (
	// globals used to patch over calls to os.Exit() during test

	logFatalln = log.Fatalln
	logFatalf  = log.Fatalf
	osExit     = os.Exit
)

func wrapFatalln(msg string, err error) {
	if err == nil {
		logFatalln(color.RedString("%s", msg))
	} else {
		logFatalf("%v", color.RedString("%s: %v", msg, err))
	}
}
