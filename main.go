package main

import "github.com/endorses/notibridge/cmd"

func main() {
	cmd.Execute()
}
