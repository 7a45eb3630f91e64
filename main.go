package main

import "github.com/tigerliu/idlewatch/cmd"

func main() {
	cmd.Execute()
}
