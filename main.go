package main

import "github.com/tanq16/streamup/cmd"

func main() {
	cmd.Execute()
}
