package main

import "github.com/shizukutanaka/Kagami/cmd/kagami/commands"

func main() {
	commands.Execute()
}
