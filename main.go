package main

import "github.com/jmehdipour/market-sms/cmd"

func main() {
	cmd.Execute()
}
