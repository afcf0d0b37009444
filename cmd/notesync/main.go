package main

import (
	"os"

	"notesync/cmd/notesync/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
