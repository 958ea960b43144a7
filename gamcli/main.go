package main

import "github.com/graphmem/gam/gamcli/cmd"

func main() {
	cmd.Execute()
}
