package main

import "github.com/jmcleod/aegis/cmd/aegis/cmd"

func main() {
	cmd.Execute()
}
