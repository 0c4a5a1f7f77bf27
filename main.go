package main

import "github.com/FluidXR/devicewatch/cmd"

func main() {
	cmd.Execute()
}
