package main

import "github.com/emflab/emfad/cmd"

func main() {
	cmd.Execute()
}
