package main

import "github.com/modulate-dev/modulate/cmd"

func main() {
	cmd.Execute()
}
