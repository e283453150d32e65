package main

import "QFMIngest/cmd"

func main() {
	cmd.Execute()
}
