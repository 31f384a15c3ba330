package main

import "lab_key_tracker/cmd"

func main() {
	cmd.Execute()
}
