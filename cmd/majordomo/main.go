package main

import "majordomo/internal/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
