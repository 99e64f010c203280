package main

import "github.com/filescope/filescope/cmd"

func main() {
	cmd.Execute()
}
