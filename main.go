package main

import "github.com/nextlevelbuilder/convogate/cmd"

func main() {
	cmd.Execute()
}
