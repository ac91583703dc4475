package main

import "github.com/encodeous/weft/cmd"

func main() {
	cmd.Execute()
}
