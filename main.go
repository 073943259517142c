package main

import (
	"github.com/TacoContent/tacobot/cmd"
)

func main() {
	cmd.Execute()
}
