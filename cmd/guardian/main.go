package main

import "github.com/econeura/usage-guardian/internal/cli"

func main() {
	cli.Execute()
}
