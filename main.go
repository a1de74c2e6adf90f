package main

import "github.com/orchard-sh/orchard/cmd"

func main() {
	cmd.Execute()
}
