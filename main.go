package main

import "github.com/wishmasterff/animara/cmd"

func main() {
	cmd.Execute()
}
