package main

import "craftworker/cmd"

func main() {
	cmd.Execute()
}
