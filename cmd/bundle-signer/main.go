package main

import "github.com/oshokin/bundle-updater/cmd/bundle-signer/cmd"

func main() {
	cmd.Execute()
}
