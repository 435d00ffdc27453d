package main

import "github.com/mselser95/parimutuel/cmd"

func main() {
	cmd.Execute()
}
