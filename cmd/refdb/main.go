// Copyright © 2018 One Concern

package main

import (
	"github.com/oneconcern/refdb/cmd/refdb/cmd"
)

func main() {
	cmd.Execute()
}
