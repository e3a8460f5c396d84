package main

import "github.com/agentic-research/reclaim/cmd"

func main() {
	cmd.Execute()
}
