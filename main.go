package main

import "github.com/schovi/dockertest/cmd"

func main() {
	cmd.Execute()
}
