package main

import "github.com/kozaktomas/face-cluster/cmd"

func main() {
	cmd.Execute()
}
