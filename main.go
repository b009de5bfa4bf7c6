package main

import "github.com/sitechat/sitechat/cmd"

func main() {
	cmd.Execute()
}
