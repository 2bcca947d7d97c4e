package main

import "github.com/ridoystarlord/schemabuild/cmd"

func main() {
	cmd.Execute()
}
