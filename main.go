package main

import "github.com/fluxrip/fluxrip/cmd"

func main() {
	cmd.Execute()
}
