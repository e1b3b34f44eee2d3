package main

import "github.com/kinfolk/kinsync/cmd"

func main() {
	cmd.Execute()
}
