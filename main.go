package main

import "github.com/frahmantamala/memory-permissions/cmd"

func main() {
	cmd.Execute()
}
