package main

import "votegate/cmd"

func main() {
	cmd.Execute()
}
