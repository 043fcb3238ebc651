package main

import "github.com/dbsmedya/prefixcrawl/cmd/prefixcrawl/cmd"

func main() {
	cmd.Execute()
}
