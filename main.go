package main

import "github.com/aspendb/aspen/cmd"

func main() {
	cmd.Execute()
}
