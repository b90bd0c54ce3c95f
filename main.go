package main

import "github.com/credmux/credmux/cmd"

func main() {
	cmd.Execute()
}
