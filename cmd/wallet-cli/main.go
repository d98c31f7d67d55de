package main

import "wallet-relay/cmd/wallet-cli/cmd"

func main() {
	cmd.Execute()
}
