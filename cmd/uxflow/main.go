package main

import "github.com/devicelab-dev/uxflow/pkg/cli"

func main() {
	cli.Execute()
}
