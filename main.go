package main

import "github.com/notargets/gohpfem/cmd"

func main() {
	cmd.Execute()
}
