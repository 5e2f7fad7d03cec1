package main

import "github.com/oshokin/wg-upgrade/cmd/wg-upgrade/cmd"

func main() {
	cmd.Execute()
}
