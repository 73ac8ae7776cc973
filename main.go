package main

import "github.com/pavelmac/faceshare/cmd"

func main() {
	cmd.Execute()
}
