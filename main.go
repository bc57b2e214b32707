package main

import "github.com/kozaktomas/cluster-sorter/cmd"

func main() {
	cmd.Execute()
}
